package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCappedBuffer(t *testing.T) {
	t.Run("KeepsPrefixAndReportsFullWrites", func(t *testing.T) {
		buf := newCappedBuffer(2) // 8 bytes of room

		n, err := buf.Write([]byte("abcdef"))
		require.NoError(t, err)
		assert.Equal(t, 6, n)

		n, err = buf.Write([]byte("ghijkl"))
		require.NoError(t, err)
		assert.Equal(t, 6, n)

		assert.Equal(t, "abcdefgh", buf.String())
	})

	t.Run("DiscardsOnceFull", func(t *testing.T) {
		buf := newCappedBuffer(1)
		_, _ = buf.Write([]byte(strings.Repeat("x", 100)))
		_, _ = buf.Write([]byte("y"))
		assert.Equal(t, "xxxx", buf.String())
	})
}
