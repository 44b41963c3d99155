package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/core"
)

// NpyCodec stores a matrix as a single NumPy .npy file.
//
// Chunked input is stacked before writing. Column names are not kept, so
// dataframe output types are rejected by core.CacheArgs.Validate.
type NpyCodec struct{}

// Write stores data at path as a single .npy array.
func (NpyCodec) Write(path string, data any) error {
	m, err := core.AsDense(data)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, 0o644, func(w io.Writer) error {
		return npyio.Write(w, m)
	})
}

// Read loads the .npy array at path into the out representation.
func (NpyCodec) Read(path string, out core.OutputDataType) (any, error) {
	m, err := readNpy(path)
	if err != nil {
		return nil, err
	}
	return core.Convert(m, out)
}

// Exists reports whether a file is stored at path.
func (NpyCodec) Exists(path string) (bool, error) {
	return fileExists(path)
}

func readNpy(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &m, nil
}
