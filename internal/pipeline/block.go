package pipeline

import (
	"context"

	"epochalyst/internal/caching"
	"epochalyst/internal/core"
	"epochalyst/internal/logging"
	"epochalyst/internal/trace"
)

// Block kinds fed into the identity hash.
const (
	KindTransformation         = "transformation"
	KindTraining               = "training"
	KindTransformationPipeline = "transformation_pipeline"
	KindParallelTransformation = "parallel_transformation"
	KindTrainingPipeline       = "training_pipeline"
	KindModelPipeline          = "model_pipeline"
)

// Transformer transforms data, possibly from cache.
type Transformer interface {
	Name() string
	Hash() core.BlockHash
	Transform(ctx context.Context, data any, opts Options) (any, error)
}

// Trainer trains on (x, y) and predicts on x, possibly from cache.
type Trainer interface {
	Name() string
	Hash() core.BlockHash
	Train(ctx context.Context, x, y any, opts Options) (any, any, error)
	Predict(ctx context.Context, x any, opts Options) (any, error)
}

// CustomTransformer is the user implementation behind a TransformationBlock.
type CustomTransformer interface {
	CustomTransform(ctx context.Context, data any, args map[string]any) (any, error)
}

// CustomTrainer is the user implementation behind a TrainingBlock.
type CustomTrainer interface {
	CustomTrain(ctx context.Context, x, y any, args map[string]any) (any, any, error)
	CustomPredict(ctx context.Context, x any, args map[string]any) (any, error)
}

// Parameterized implementations contribute their parameters to the block hash.
type Parameterized interface {
	Params() map[string]any
}

// LoggerAware implementations receive the block's logger on construction.
type LoggerAware interface {
	SetLogger(logging.Logger)
}

// Runtime carries the shared services of a pipeline run. Every field may be
// left nil: a nil Cacher disables caching, a nil Logger discards logs and a
// nil Trace discards trace events.
type Runtime struct {
	Cacher *caching.Cacher
	Logger logging.Logger
	Trace  trace.Sink
}

func (rt Runtime) logger() logging.Logger {
	return logging.OrNop(rt.Logger)
}

func (rt Runtime) cacher() *caching.Cacher {
	if rt.Cacher == nil {
		return caching.NewCacher(rt.Logger, nil)
	}
	return rt.Cacher
}

func (rt Runtime) record(kind trace.TraceEventKind, block string, h core.BlockHash, stage trace.Stage, reason string, artifacts ...string) {
	trace.SafeRecord(rt.Trace, trace.TraceEvent{
		Kind:      kind,
		Block:     block,
		Hash:      h.String(),
		Stage:     stage,
		Reason:    reason,
		Artifacts: artifacts,
	})
}

// Trace reason codes.
const (
	ReasonCacheHit         = "CacheHit"
	ReasonComputed         = "Computed"
	ReasonResumedFromCache = "ResumedFromCache"
	ReasonPipelineCacheHit = "PipelineCacheHit"
	ReasonUpstreamFailed   = "UpstreamFailed"
	ReasonError            = "Error"
)

func blockHash(kind, name string, impl any, children []core.BlockHash) (core.BlockHash, error) {
	var params map[string]any
	if p, ok := impl.(Parameterized); ok {
		params = p.Params()
	}
	return core.NewHasher().ComputeHash(core.HashInput{
		Kind:     kind,
		Name:     name,
		Params:   params,
		Children: children,
	})
}

// cached loads every name from the cache when all of them exist.
// It reports ok=false when caching is disabled or any entry is missing.
func (rt Runtime) cached(ctx context.Context, args *core.CacheArgs, names ...string) ([]any, bool, error) {
	if args.IsZero() {
		return nil, false, nil
	}
	c := rt.cacher()
	for _, name := range names {
		ok, err := c.Exists(ctx, name, args)
		if err != nil || !ok {
			return nil, false, err
		}
	}
	out := make([]any, 0, len(names))
	for _, name := range names {
		v, err := c.Get(ctx, name, args)
		if err != nil {
			return nil, false, err
		}
		out = append(out, v)
	}
	return out, true, nil
}

func (rt Runtime) store(ctx context.Context, args *core.CacheArgs, name string, data any) error {
	if args.IsZero() {
		return nil
	}
	return rt.cacher().Store(ctx, name, data, args)
}
