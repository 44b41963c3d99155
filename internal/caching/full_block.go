package caching

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"epochalyst/internal/core"
	"epochalyst/internal/logging"
	"epochalyst/internal/storage"
)

// ErrPipelineCache is returned when a cache block is misconfigured.
var ErrPipelineCache = errors.New("cache pipeline error")

// ArgPredict is the call argument that marks a prediction pass. A FullBlock
// passes prediction data through instead of replacing it with the stored
// training array.
const ArgPredict = "predict"

// FullBlock persists a whole chunked array to an npy stack at DataPath.
//
// If a complete stack already exists at DataPath it is returned and the
// input is ignored. Otherwise the input is stored and the stored stack is
// read back, so downstream blocks see exactly what is on disk. A stored
// array whose column count differs from the input is an error.
//
// FullBlock is a transformation implementation: wrap it in a
// pipeline.TransformationBlock to use it as a pipeline step.
type FullBlock struct {
	DataPath string
	Logger   logging.Logger

	baseDir string
}

// Params returns the configured data path, before base dir resolution, so
// the block hash does not depend on where the workspace lives.
func (b *FullBlock) Params() map[string]any {
	return map[string]any{"data_path": b.DataPath}
}

func (b *FullBlock) SetLogger(l logging.Logger) { b.Logger = l }

// ResolvePaths makes a relative DataPath relative to baseDir.
func (b *FullBlock) ResolvePaths(baseDir string) { b.baseDir = baseDir }

// Path returns the location of the stack.
func (b *FullBlock) Path() string {
	if b.baseDir == "" || filepath.IsAbs(b.DataPath) {
		return filepath.Clean(b.DataPath)
	}
	return filepath.Join(b.baseDir, b.DataPath)
}

// CustomTransform stores or loads the array. Any supported value is accepted
// and converted to a chunked array first; nil input only loads.
func (b *FullBlock) CustomTransform(ctx context.Context, data any, args map[string]any) (any, error) {
	var x *core.Chunked
	if data != nil {
		converted, err := core.Convert(data, core.DaskArray)
		if err != nil {
			return nil, err
		}
		x = converted.(*core.Chunked)
	}
	if predict, _ := args[ArgPredict].(bool); predict {
		if x == nil {
			return nil, fmt.Errorf("%w: no input to predict on", ErrPipelineCache)
		}
		return x, nil
	}
	return b.Transform(ctx, x)
}

// Transform stores or loads the array.
func (b *FullBlock) Transform(ctx context.Context, x *core.Chunked) (*core.Chunked, error) {
	if strings.TrimSpace(b.DataPath) == "" {
		return nil, fmt.Errorf("%w: data_path is required", ErrPipelineCache)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logging.OrNop(b.Logger)
	codec := storage.NpyStackCodec{}
	path := b.Path()

	exists, err := codec.Exists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		log.LogToTerminal(fmt.Sprintf("Loading full array from %s", path))
		stored, err := readStack(codec, path)
		if err != nil {
			return nil, err
		}
		if x != nil && len(x.Chunks) > 0 && len(stored.Chunks) > 0 {
			_, want := x.Chunks[0].Dims()
			_, got := stored.Chunks[0].Dims()
			if want != got {
				return nil, fmt.Errorf("%w: array at %s has %d columns, input has %d", ErrPipelineCache, path, got, want)
			}
		}
		return stored, nil
	}

	if x == nil {
		return nil, fmt.Errorf("%w: nothing stored at %s and no input given", ErrPipelineCache, path)
	}
	log.LogToTerminal(fmt.Sprintf("Storing full array to %s", path))
	if err := codec.Write(path, x); err != nil {
		return nil, err
	}
	return readStack(codec, path)
}

func readStack(codec storage.NpyStackCodec, path string) (*core.Chunked, error) {
	out, err := codec.Read(path, core.DaskArray)
	if err != nil {
		return nil, err
	}
	return out.(*core.Chunked), nil
}
