package mxtool

import (
	"bytes"
	"os"
	"path/filepath"
)

// Materialize writes content to path only when the bytes differ from what is
// already there, and reports whether a write happened. Repeated calls with
// the same content converge to "no write" after the first success.
func Materialize(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, abortf(1, "could not read %s: %v", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, abortf(1, "could not create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, abortf(1, "could not write %s: %v", path, err)
	}
	return true, nil
}
