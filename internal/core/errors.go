package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned when a block has no custom implementation.
	ErrNotImplemented = errors.New("custom method not implemented")

	// ErrInvalidCacheArgs is returned for incomplete or unsupported cache arguments.
	ErrInvalidCacheArgs = errors.New("invalid cache args")

	// ErrUnsupportedData is returned when a value cannot be represented as
	// the requested output data type.
	ErrUnsupportedData = errors.New("unsupported data")

	// ErrCacheMiss is returned by a cache read for a name that was never stored.
	ErrCacheMiss = errors.New("cache miss")
)

// CacheError wraps a failure of a cache operation on a named entry.
type CacheError struct {
	Op   string
	Name string
	Err  error
}

func (e *CacheError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func invalidArgsf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCacheArgs, fmt.Sprintf(format, args...))
}

func unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedData, fmt.Sprintf(format, args...))
}
