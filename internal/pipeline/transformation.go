package pipeline

import (
	"context"
	"fmt"
	"strings"

	"epochalyst/internal/core"
	"epochalyst/internal/trace"
)

// TransformationBlock wraps a CustomTransformer with output caching.
//
// With cache args set, the output is stored under the block hash and later
// calls with the same args return the stored output without calling the
// implementation.
type TransformationBlock struct {
	name string
	hash core.BlockHash
	impl CustomTransformer
	rt   Runtime
}

// NewTransformationBlock creates a block named name around impl. A nil impl
// is allowed; Transform then fails with core.ErrNotImplemented on a cache miss.
func NewTransformationBlock(name string, impl CustomTransformer, rt Runtime) (*TransformationBlock, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("transformation block name is required")
	}
	h, err := blockHash(KindTransformation, name, impl, nil)
	if err != nil {
		return nil, fmt.Errorf("hashing block %q: %w", name, err)
	}
	if la, ok := impl.(LoggerAware); ok {
		la.SetLogger(rt.logger())
	}
	return &TransformationBlock{name: name, hash: h, impl: impl, rt: rt}, nil
}

func (b *TransformationBlock) Name() string { return b.name }

func (b *TransformationBlock) Hash() core.BlockHash { return b.hash }

// Transform returns the cached output when present, otherwise runs the
// custom implementation and stores its output.
func (b *TransformationBlock) Transform(ctx context.Context, data any, opts Options) (any, error) {
	key := b.hash.String()

	hit, ok, err := b.rt.cached(ctx, opts.Cache, key)
	if err != nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTransform, ReasonError)
		return nil, fmt.Errorf("transformation block %q: %w", b.name, err)
	}
	if ok {
		b.rt.record(trace.EventBlockCached, b.name, b.hash, trace.StageTransform, ReasonCacheHit, key)
		return hit[0], nil
	}

	if b.impl == nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTransform, ReasonError)
		return nil, fmt.Errorf("transformation block %q: %w", b.name, core.ErrNotImplemented)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.rt.logger().LogToDebug(fmt.Sprintf("Transforming with %s (%s)", b.name, b.hash.Short()))
	out, err := b.impl.CustomTransform(ctx, data, opts.Args)
	if err != nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTransform, ReasonError)
		return nil, fmt.Errorf("transformation block %q: %w", b.name, err)
	}
	b.rt.record(trace.EventBlockExecuted, b.name, b.hash, trace.StageTransform, ReasonComputed)

	if !opts.Cache.IsZero() {
		if err := b.rt.store(ctx, opts.Cache, key, out); err != nil {
			b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTransform, ReasonError)
			return nil, fmt.Errorf("transformation block %q: %w", b.name, err)
		}
		b.rt.record(trace.EventBlockStored, b.name, b.hash, trace.StageTransform, "", key)
	}
	return out, nil
}
