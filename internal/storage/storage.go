package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"epochalyst/internal/core"
)

// Codec stores one kind of on-disk format.
type Codec interface {
	// Write stores data at path, replacing any previous entry.
	Write(path string, data any) error

	// Read loads the entry at path as the Go type that represents out.
	Read(path string, out core.OutputDataType) (any, error)

	// Exists reports whether a complete entry is present at path.
	Exists(path string) (bool, error)
}

// For returns the codec for a storage type.
func For(st core.StorageType) (Codec, error) {
	switch st {
	case core.StorageNpy:
		return NpyCodec{}, nil
	case core.StorageNpyStack:
		return NpyStackCodec{}, nil
	case core.StorageCSV:
		return CSVCodec{}, nil
	case core.StorageParquet:
		return ParquetCodec{}, nil
	case core.StorageGob:
		return GobCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", core.ErrInvalidCacheArgs, st)
	}
}

// PathFor returns the location of the named entry:
//
//	{storage_path}/{name}{storage_type}
func PathFor(args *core.CacheArgs, name string) string {
	return filepath.Join(args.StoragePath, name+string(args.StorageType))
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

// writeFileAtomic streams into a temp file in the destination directory and
// renames it over path once write and sync succeed.
func writeFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
