package sandbox

import (
	"fmt"
	"path/filepath"
)

// workspace is a scratch directory owned by exactly one execution. Close
// removes the directory and everything under it.
type workspace struct {
	fs  FileSystem
	dir string
}

func newWorkspace(fs FileSystem, root string) (*workspace, error) {
	dir, err := fs.MkdirTemp(root, WorkspacePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &workspace{fs: fs, dir: dir}, nil
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

// writeSource materializes the source file and returns its path
func (w *workspace) writeSource(name, source string) (string, error) {
	p := w.path(name)
	if err := w.fs.WriteFile(p, []byte(source), FilePermission); err != nil {
		return "", fmt.Errorf("failed to write user code: %w", err)
	}
	return p, nil
}

func (w *workspace) Close() error {
	return w.fs.RemoveAll(w.dir)
}
