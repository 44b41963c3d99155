package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"epochalyst/internal/core"
	"epochalyst/internal/storage"
	"epochalyst/internal/trace"
)

// Cache name suffixes of a training block.
const (
	suffixX       = "x"
	suffixY       = "y"
	suffixPredict = "p"
	suffixModel   = "m"
)

// ModelCheckpointer is implemented by trainers whose fitted state must
// survive a cached Train. The state is stored next to the cached outputs
// under hash+"m" and restored on a cache hit, so Predict works without
// retraining.
type ModelCheckpointer interface {
	MarshalModel() ([]byte, error)
	UnmarshalModel([]byte) error
}

// TrainingBlock wraps a CustomTrainer with output caching.
//
// Train caches its outputs under hash+"x" and hash+"y"; a cache hit needs
// both. Predict caches under hash+"p".
type TrainingBlock struct {
	name string
	hash core.BlockHash
	impl CustomTrainer
	rt   Runtime
}

// NewTrainingBlock creates a block named name around impl. A nil impl is
// allowed; Train and Predict then fail with core.ErrNotImplemented on a
// cache miss.
func NewTrainingBlock(name string, impl CustomTrainer, rt Runtime) (*TrainingBlock, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("training block name is required")
	}
	h, err := blockHash(KindTraining, name, impl, nil)
	if err != nil {
		return nil, fmt.Errorf("hashing block %q: %w", name, err)
	}
	if la, ok := impl.(LoggerAware); ok {
		la.SetLogger(rt.logger())
	}
	return &TrainingBlock{name: name, hash: h, impl: impl, rt: rt}, nil
}

func (b *TrainingBlock) Name() string { return b.name }

func (b *TrainingBlock) Hash() core.BlockHash { return b.hash }

// Train returns the cached (x, y) when both are present, otherwise trains
// and stores both outputs.
func (b *TrainingBlock) Train(ctx context.Context, x, y any, opts Options) (any, any, error) {
	keyX := b.hash.String() + suffixX
	keyY := b.hash.String() + suffixY

	hit, ok, err := b.rt.cached(ctx, opts.Cache, keyX, keyY)
	if err == nil && ok {
		ok, err = b.restoreModel(opts.Cache)
	}
	if err != nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTrain, ReasonError)
		return nil, nil, fmt.Errorf("training block %q: %w", b.name, err)
	}
	if ok {
		b.rt.record(trace.EventBlockCached, b.name, b.hash, trace.StageTrain, ReasonCacheHit, keyX, keyY)
		return hit[0], hit[1], nil
	}

	if b.impl == nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTrain, ReasonError)
		return nil, nil, fmt.Errorf("training block %q: %w", b.name, core.ErrNotImplemented)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	b.rt.logger().LogToDebug(fmt.Sprintf("Training %s (%s)", b.name, b.hash.Short()))
	outX, outY, err := b.impl.CustomTrain(ctx, x, y, opts.Args)
	if err != nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTrain, ReasonError)
		return nil, nil, fmt.Errorf("training block %q: %w", b.name, err)
	}
	b.rt.record(trace.EventBlockExecuted, b.name, b.hash, trace.StageTrain, ReasonComputed)

	if !opts.Cache.IsZero() {
		if err := b.rt.store(ctx, opts.Cache, keyX, outX); err != nil {
			b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTrain, ReasonError)
			return nil, nil, fmt.Errorf("training block %q: %w", b.name, err)
		}
		if err := b.rt.store(ctx, opts.Cache, keyY, outY); err != nil {
			b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTrain, ReasonError)
			return nil, nil, fmt.Errorf("training block %q: %w", b.name, err)
		}
		if err := b.saveModel(opts.Cache); err != nil {
			b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StageTrain, ReasonError)
			return nil, nil, fmt.Errorf("training block %q: %w", b.name, err)
		}
		b.rt.record(trace.EventBlockStored, b.name, b.hash, trace.StageTrain, "", keyX, keyY)
	}
	return outX, outY, nil
}

// Predict returns the cached prediction when present, otherwise predicts
// and stores the result.
func (b *TrainingBlock) Predict(ctx context.Context, x any, opts Options) (any, error) {
	key := b.hash.String() + suffixPredict

	hit, ok, err := b.rt.cached(ctx, opts.Cache, key)
	if err != nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StagePredict, ReasonError)
		return nil, fmt.Errorf("training block %q: %w", b.name, err)
	}
	if ok {
		b.rt.record(trace.EventBlockCached, b.name, b.hash, trace.StagePredict, ReasonCacheHit, key)
		return hit[0], nil
	}

	if b.impl == nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StagePredict, ReasonError)
		return nil, fmt.Errorf("training block %q: %w", b.name, core.ErrNotImplemented)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := b.impl.CustomPredict(ctx, x, opts.Args)
	if err != nil {
		b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StagePredict, ReasonError)
		return nil, fmt.Errorf("training block %q: %w", b.name, err)
	}
	b.rt.record(trace.EventBlockExecuted, b.name, b.hash, trace.StagePredict, ReasonComputed)

	if !opts.Cache.IsZero() {
		if err := b.rt.store(ctx, opts.Cache, key, out); err != nil {
			b.rt.record(trace.EventBlockFailed, b.name, b.hash, trace.StagePredict, ReasonError)
			return nil, fmt.Errorf("training block %q: %w", b.name, err)
		}
		b.rt.record(trace.EventBlockStored, b.name, b.hash, trace.StagePredict, "", key)
	}
	return out, nil
}

func (b *TrainingBlock) modelPath(args *core.CacheArgs) string {
	return filepath.Join(args.StoragePath, b.hash.String()+suffixModel+".model")
}

// restoreModel loads the checkpoint of a checkpointing trainer. It reports
// false when the checkpoint is missing, which turns the hit into a miss.
func (b *TrainingBlock) restoreModel(args *core.CacheArgs) (bool, error) {
	cp, isCheckpointer := b.impl.(ModelCheckpointer)
	if !isCheckpointer {
		return true, nil
	}
	path := b.modelPath(args)
	ok, err := storage.BlobExists(path)
	if err != nil || !ok {
		return false, err
	}
	data, err := storage.ReadBlob(path)
	if err != nil {
		return false, err
	}
	if err := cp.UnmarshalModel(data); err != nil {
		return false, fmt.Errorf("restoring model from %s: %w", path, err)
	}
	b.rt.logger().LogToDebug(fmt.Sprintf("Restored model %s from %s", b.name, path))
	return true, nil
}

func (b *TrainingBlock) saveModel(args *core.CacheArgs) error {
	cp, isCheckpointer := b.impl.(ModelCheckpointer)
	if !isCheckpointer {
		return nil
	}
	data, err := cp.MarshalModel()
	if err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	return storage.WriteBlob(b.modelPath(args), data)
}
