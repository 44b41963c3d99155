package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sbinet/npyio"
	"gopkg.in/yaml.v3"

	"epochalyst/internal/core"
)

const stackInfoFile = "info.yaml"

// stackInfo is the manifest of an npy stack directory.
type stackInfo struct {
	Columns int   `yaml:"columns"`
	Chunks  []int `yaml:"chunks"`
}

// NpyStackCodec stores a chunked array as a directory:
//
//	{path}/
//	  info.yaml   (column count and per-chunk row counts)
//	  0.npy
//	  1.npy
//	  ...
//
// The manifest is written last, so a directory without it is incomplete.
type NpyStackCodec struct{}

// Write stores data as a directory of .npy chunks plus a stack info file.
func (NpyStackCodec) Write(path string, data any) error {
	converted, err := core.Convert(data, core.DaskArray)
	if err != nil {
		return err
	}
	ch := converted.(*core.Chunked)
	if len(ch.Chunks) == 0 {
		return fmt.Errorf("%w: chunked array has no chunks", core.ErrUnsupportedData)
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", parent, err)
	}
	tmpDir, err := os.MkdirTemp(parent, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp stack dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	_, cols := ch.Chunks[0].Dims()
	info := stackInfo{Columns: cols, Chunks: make([]int, len(ch.Chunks))}
	for i, chunk := range ch.Chunks {
		r, c := chunk.Dims()
		if c != cols {
			return fmt.Errorf("%w: chunk %d has %d columns, want %d", core.ErrUnsupportedData, i, c, cols)
		}
		info.Chunks[i] = r
		chunkPath := filepath.Join(tmpDir, strconv.Itoa(i)+".npy")
		if err := writeFileAtomic(chunkPath, 0o644, func(w io.Writer) error {
			return npyio.Write(w, chunk)
		}); err != nil {
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}
	}

	manifest, err := yaml.Marshal(&info)
	if err != nil {
		return fmt.Errorf("encoding stack manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, stackInfoFile), 0o644, func(w io.Writer) error {
		_, err := w.Write(manifest)
		return err
	}); err != nil {
		return fmt.Errorf("writing stack manifest: %w", err)
	}

	// A crash between remove and rename yields a cache miss, not corruption.
	_ = os.RemoveAll(path)
	if err := os.Rename(tmpDir, path); err != nil {
		return fmt.Errorf("committing stack: %w", err)
	}
	committed = true
	return nil
}

// Read loads every chunk under path into the out representation.
func (NpyStackCodec) Read(path string, out core.OutputDataType) (any, error) {
	raw, err := os.ReadFile(filepath.Join(path, stackInfoFile))
	if err != nil {
		return nil, fmt.Errorf("reading stack manifest: %w", err)
	}
	var info stackInfo
	if err := yaml.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("parsing stack manifest: %w", err)
	}

	ch := &core.Chunked{}
	for i, rows := range info.Chunks {
		m, err := readNpy(filepath.Join(path, strconv.Itoa(i)+".npy"))
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		r, c := m.Dims()
		if r != rows || c != info.Columns {
			return nil, fmt.Errorf("chunk %d is %dx%d, manifest says %dx%d", i, r, c, rows, info.Columns)
		}
		ch.Chunks = append(ch.Chunks, m)
	}
	return core.Convert(ch, out)
}

// Exists reports whether path holds a stack info file.
func (NpyStackCodec) Exists(path string) (bool, error) {
	return fileExists(filepath.Join(path, stackInfoFile))
}
