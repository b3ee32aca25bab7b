package sandbox

import (
	"bytes"
	"unicode/utf8"
)

// cappedBuffer keeps the first limit bytes written to it and silently
// discards the rest, so a chatty child never blocks on a full pipe.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func newCappedBuffer(maxChars int) *cappedBuffer {
	// A character is at most utf8.UTFMax bytes
	return &cappedBuffer{limit: maxChars * utf8.UTFMax}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) <= room {
			c.buf.Write(p)
		} else {
			c.buf.Write(p[:room])
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
