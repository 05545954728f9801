// Package persist writes state files so that readers only ever see the
// previous or the new complete content.
package persist

import (
	"io"
	"os"
	"path/filepath"
)

// ReplaceFile writes b to a temporary file next to path, syncs it to stable
// storage and renames it over path.
func ReplaceFile(path string, b []byte, perm os.FileMode) (err error) {
	tmpPath := path + ".tmp"

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	n, err := f.Write(b)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if err1 := f.Close(); err == nil {
		err = err1
	}
	if err != nil {
		return err
	}

	// OpenFile only applies perm on create and is subject to umask
	err = os.Chmod(tmpPath, perm)
	if err != nil {
		return err
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		return err
	}

	syncDir(filepath.Dir(path))

	return nil
}

// syncDir makes the rename durable; errors are ignored since not every
// platform supports syncing a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
