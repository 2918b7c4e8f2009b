// Package atomicfile replaces files atomically: data is written to a sibling
// temp path, flushed, then renamed over the target. A reader never sees a
// partially written file and a crash mid-write leaves the old file intact.
package atomicfile

import (
	"os"
	"path/filepath"
)

// WriteFile writes data to path via a temp sibling and rename.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteString is WriteFile for string data, creating parent directories
// first if needed.
func WriteString(path, data string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return WriteFile(path, []byte(data), perm)
}
