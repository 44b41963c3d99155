// Package caching stores and loads block outputs keyed by block hash.
package caching

import (
	"context"
	"fmt"

	"epochalyst/internal/core"
	"epochalyst/internal/logging"
	"epochalyst/internal/storage"
)

// Recorder is notified of every artifact the Cacher writes.
type Recorder interface {
	RecordArtifact(ctx context.Context, name string, args core.CacheArgs, path string) error
}

// Cacher reads and writes named cache entries described by core.CacheArgs.
//
// Behavior:
//   - Zero cache args disable caching: Exists reports false and Store is a no-op.
//   - Invalid args fail with core.ErrInvalidCacheArgs before touching the disk.
//   - Get on an absent entry fails with core.ErrCacheMiss.
type Cacher struct {
	Logger   logging.Logger
	Recorder Recorder
}

// NewCacher creates a Cacher. Both arguments may be nil.
func NewCacher(logger logging.Logger, recorder Recorder) *Cacher {
	return &Cacher{Logger: logging.OrNop(logger), Recorder: recorder}
}

func (c *Cacher) logger() logging.Logger {
	if c == nil {
		return logging.Nop()
	}
	return logging.OrNop(c.Logger)
}

func resolve(name string, args *core.CacheArgs) (storage.Codec, string, error) {
	if err := args.Validate(); err != nil {
		return nil, "", err
	}
	codec, err := storage.For(args.StorageType)
	if err != nil {
		return nil, "", err
	}
	return codec, storage.PathFor(args, name), nil
}

// Exists reports whether the named entry is stored.
func (c *Cacher) Exists(ctx context.Context, name string, args *core.CacheArgs) (bool, error) {
	if args.IsZero() {
		return false, nil
	}
	codec, path, err := resolve(name, args)
	if err != nil {
		return false, &core.CacheError{Op: "exists", Name: name, Err: err}
	}
	ok, err := codec.Exists(path)
	if err != nil {
		return false, &core.CacheError{Op: "exists", Name: name, Err: err}
	}
	if ok {
		c.logger().LogToDebug(fmt.Sprintf("cache exists: %s", path))
	}
	return ok, nil
}

// Get loads the named entry as args.OutputDataType.
func (c *Cacher) Get(ctx context.Context, name string, args *core.CacheArgs) (any, error) {
	if args.IsZero() {
		return nil, &core.CacheError{Op: "get", Name: name, Err: core.ErrCacheMiss}
	}
	codec, path, err := resolve(name, args)
	if err != nil {
		return nil, &core.CacheError{Op: "get", Name: name, Err: err}
	}
	ok, err := codec.Exists(path)
	if err != nil {
		return nil, &core.CacheError{Op: "get", Name: name, Err: err}
	}
	if !ok {
		return nil, &core.CacheError{Op: "get", Name: name, Err: core.ErrCacheMiss}
	}

	c.logger().LogToTerminal(fmt.Sprintf("Loading %s from %s", args.OutputDataType, path))
	data, err := codec.Read(path, args.OutputDataType)
	if err != nil {
		return nil, &core.CacheError{Op: "get", Name: name, Err: err}
	}
	return data, nil
}

// Store writes data under name. The data is converted to
// args.OutputDataType first, so an unrepresentable value fails with
// core.ErrUnsupportedData.
func (c *Cacher) Store(ctx context.Context, name string, data any, args *core.CacheArgs) error {
	if args.IsZero() {
		return nil
	}
	codec, path, err := resolve(name, args)
	if err != nil {
		return &core.CacheError{Op: "store", Name: name, Err: err}
	}
	converted, err := core.Convert(data, args.OutputDataType)
	if err != nil {
		return &core.CacheError{Op: "store", Name: name, Err: err}
	}

	c.logger().LogToTerminal(fmt.Sprintf("Storing %s to %s", args.OutputDataType, path))
	if err := codec.Write(path, converted); err != nil {
		return &core.CacheError{Op: "store", Name: name, Err: err}
	}

	if c != nil && c.Recorder != nil {
		if err := c.Recorder.RecordArtifact(ctx, name, *args, path); err != nil {
			// The artifact is usable without its catalog row.
			c.logger().LogToWarning(fmt.Sprintf("recording %s in catalog failed: %v", path, err))
		}
	}
	return nil
}
