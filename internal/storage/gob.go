package storage

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/core"
)

// gobEnvelope holds exactly one of the supported values.
type gobEnvelope struct {
	Dense   *mat.Dense
	Frame   *core.Frame
	Chunked *core.Chunked
}

// GobCodec stores the concrete Go value with encoding/gob, so the value
// reads back with the type it was written with before conversion.
type GobCodec struct{}

// Write gob-encodes data to path.
func (GobCodec) Write(path string, data any) error {
	var env gobEnvelope
	switch v := data.(type) {
	case *mat.Dense:
		env.Dense = v
	case *core.Frame:
		env.Frame = v
	case *core.Chunked:
		env.Chunked = v
	default:
		return fmt.Errorf("%w: %T", core.ErrUnsupportedData, data)
	}
	return writeFileAtomic(path, 0o644, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(&env)
	})
}

// Read decodes the gob file at path into the out representation.
func (GobCodec) Read(path string, out core.OutputDataType) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var env gobEnvelope
	if err := gob.NewDecoder(f).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	switch {
	case env.Dense != nil:
		return core.Convert(env.Dense, out)
	case env.Frame != nil:
		return core.Convert(env.Frame, out)
	case env.Chunked != nil:
		return core.Convert(env.Chunked, out)
	default:
		return nil, fmt.Errorf("decoding %s: empty envelope", path)
	}
}

// Exists reports whether a file is stored at path.
func (GobCodec) Exists(path string) (bool, error) {
	return fileExists(path)
}
