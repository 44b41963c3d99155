package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// WriteBlob atomically stores raw bytes at path.
func WriteBlob(path string, data []byte) error {
	return writeFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// ReadBlob loads the bytes stored at path. A missing file wraps os.ErrNotExist.
func ReadBlob(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return b, nil
}

// BlobExists reports whether a regular file is present at path.
func BlobExists(path string) (bool, error) {
	return fileExists(path)
}
