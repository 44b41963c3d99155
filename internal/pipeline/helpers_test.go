package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/caching"
	"epochalyst/internal/core"
	"epochalyst/internal/trace"
)

var errBoom = errors.New("boom")

// addConst adds a constant to every element and counts its calls.
type addConst struct {
	c     float64
	calls atomic.Int32
	fail  bool
}

func (a *addConst) Params() map[string]any { return map[string]any{"c": a.c} }

func (a *addConst) CustomTransform(_ context.Context, data any, _ map[string]any) (any, error) {
	a.calls.Add(1)
	if a.fail {
		return nil, errBoom
	}
	m, err := core.AsDense(data)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return v + a.c }, m)
	return &out, nil
}

// scaleTrainer multiplies x by k on train and predict.
type scaleTrainer struct {
	k            float64
	trainCalls   atomic.Int32
	predictCalls atomic.Int32
}

func (s *scaleTrainer) Params() map[string]any { return map[string]any{"k": s.k} }

func (s *scaleTrainer) CustomTrain(_ context.Context, x, y any, _ map[string]any) (any, any, error) {
	s.trainCalls.Add(1)
	m, err := core.AsDense(x)
	if err != nil {
		return nil, nil, err
	}
	var out mat.Dense
	out.Scale(s.k, m)
	return &out, y, nil
}

func (s *scaleTrainer) CustomPredict(_ context.Context, x any, _ map[string]any) (any, error) {
	s.predictCalls.Add(1)
	m, err := core.AsDense(x)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Scale(s.k, m)
	return &out, nil
}

func npyArgs(t *testing.T) *core.CacheArgs {
	t.Helper()
	return &core.CacheArgs{
		OutputDataType: core.NumpyArray,
		StorageType:    core.StorageNpy,
		StoragePath:    t.TempDir(),
	}
}

func newRuntime() (Runtime, *trace.Recorder) {
	rec := trace.NewRecorder()
	return Runtime{Cacher: caching.NewCacher(nil, nil), Trace: rec}, rec
}

func column(vals ...float64) *mat.Dense {
	return mat.NewDense(len(vals), 1, vals)
}

func values(t *testing.T, data any) []float64 {
	t.Helper()
	m, err := core.AsDense(data)
	if err != nil {
		t.Fatalf("AsDense: %v", err)
	}
	return mat.DenseCopyOf(m).RawMatrix().Data
}
