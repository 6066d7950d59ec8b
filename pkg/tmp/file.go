// Package tmp provides scoped temporary files and atomic file
// replacement. Every pipeline write that consumers observe goes
// through WriteFile so a crash never leaves a half-written artifact.
package tmp

import (
	"fmt"
	"os"
	"path/filepath"
)

// File wraps an *os.File and also implements a Close method which
// cleans up the file from the filesystem.
type File struct {
	*os.File
}

func NewFile(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}

	return &File{f}, nil
}

// Close closes the file handle and removes the file from the
// filesystem.
func (t *File) Close() error {
	if err := t.File.Close(); err != nil {
		return err
	}
	return os.Remove(t.File.Name())
}

// Commit closes the file handle and renames the file to path instead
// of removing it. On any error the temporary file is removed.
func (t *File) Commit(path string) error {
	name := t.File.Name()
	if err := t.File.Sync(); err != nil {
		os.Remove(name)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := t.File.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// WriteFile atomically replaces the file at path with data: the bytes
// are staged in a temporary file in the same directory and renamed
// into place. Parent directories are created as needed.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := NewFile(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return f.Commit(path)
}
