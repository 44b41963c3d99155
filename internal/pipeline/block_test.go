package pipeline

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/core"
	"epochalyst/internal/logging"
	"epochalyst/internal/trace"
)

func TestTransformationBlock_HashDependsOnNameAndParams(t *testing.T) {
	rt, _ := newRuntime()
	a, err := NewTransformationBlock("add", &addConst{c: 1}, rt)
	require.NoError(t, err)
	b, err := NewTransformationBlock("add", &addConst{c: 1}, rt)
	require.NoError(t, err)
	c, err := NewTransformationBlock("add", &addConst{c: 2}, rt)
	require.NoError(t, err)
	d, err := NewTransformationBlock("other", &addConst{c: 1}, rt)
	require.NoError(t, err)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.NotEqual(t, a.Hash(), d.Hash())
}

func TestTransformationBlock_TrainingAndTransformationKindsHashDifferently(t *testing.T) {
	rt, _ := newRuntime()
	tb, err := NewTransformationBlock("same", nil, rt)
	require.NoError(t, err)
	trb, err := NewTrainingBlock("same", nil, rt)
	require.NoError(t, err)
	assert.NotEqual(t, tb.Hash(), trb.Hash())
}

func TestTransformationBlock_RejectsEmptyName(t *testing.T) {
	_, err := NewTransformationBlock(" ", &addConst{}, Runtime{})
	assert.True(t, errors.Is(err, ErrInvalidPipeline))
}

func TestTransformationBlock_NoCacheAlwaysComputes(t *testing.T) {
	rt, _ := newRuntime()
	impl := &addConst{c: 1}
	b, err := NewTransformationBlock("add", impl, rt)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := b.Transform(context.Background(), column(1, 2), Options{})
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 3}, values(t, out))
	}
	assert.EqualValues(t, 2, impl.calls.Load())
}

func TestTransformationBlock_SecondCallIsServedFromCache(t *testing.T) {
	rt, rec := newRuntime()
	impl := &addConst{c: 1}
	b, err := NewTransformationBlock("add", impl, rt)
	require.NoError(t, err)
	opts := Options{Cache: npyArgs(t)}

	_, err = b.Transform(context.Background(), column(1, 2), opts)
	require.NoError(t, err)
	// Different input, same hash: the stored output is returned.
	out, err := b.Transform(context.Background(), column(10, 20), opts)
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 3}, values(t, out))
	assert.EqualValues(t, 1, impl.calls.Load())

	kinds := map[trace.TraceEventKind]int{}
	for _, e := range rec.Snapshot() {
		kinds[e.Kind]++
	}
	assert.Equal(t, map[trace.TraceEventKind]int{
		trace.EventBlockExecuted: 1,
		trace.EventBlockStored:   1,
		trace.EventBlockCached:   1,
	}, kinds)
}

func TestTransformationBlock_NilImplementationIsNotImplemented(t *testing.T) {
	rt, rec := newRuntime()
	b, err := NewTransformationBlock("empty", nil, rt)
	require.NoError(t, err)

	_, err = b.Transform(context.Background(), column(1), Options{})
	assert.True(t, errors.Is(err, core.ErrNotImplemented))
	require.Len(t, rec.Snapshot(), 1)
	assert.Equal(t, trace.EventBlockFailed, rec.Snapshot()[0].Kind)
}

func TestTransformationBlock_ImplementationErrorIsWrapped(t *testing.T) {
	rt, _ := newRuntime()
	b, err := NewTransformationBlock("bad", &addConst{fail: true}, rt)
	require.NoError(t, err)

	_, err = b.Transform(context.Background(), column(1), Options{})
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestTransformationBlock_InvalidCacheArgsFail(t *testing.T) {
	rt, _ := newRuntime()
	impl := &addConst{}
	b, err := NewTransformationBlock("add", impl, rt)
	require.NoError(t, err)

	_, err = b.Transform(context.Background(), column(1), Options{Cache: &core.CacheArgs{StorageType: core.StorageNpy}})
	assert.True(t, errors.Is(err, core.ErrInvalidCacheArgs))
	assert.EqualValues(t, 0, impl.calls.Load())
}

type loggerAware struct {
	addConst
	got logging.Logger
}

func (l *loggerAware) SetLogger(log logging.Logger) { l.got = log }

func TestTransformationBlock_LoggerAwareImplementationReceivesLogger(t *testing.T) {
	impl := &loggerAware{}
	_, err := NewTransformationBlock("aware", impl, Runtime{})
	require.NoError(t, err)
	assert.NotNil(t, impl.got)
}

func TestTrainingBlock_TrainCachesXAndY(t *testing.T) {
	rt, _ := newRuntime()
	impl := &scaleTrainer{k: 2}
	b, err := NewTrainingBlock("scale", impl, rt)
	require.NoError(t, err)
	opts := Options{Cache: npyArgs(t)}

	x1, y1, err := b.Train(context.Background(), column(1, 2), column(5, 6), opts)
	require.NoError(t, err)
	x2, y2, err := b.Train(context.Background(), column(0, 0), column(0, 0), opts)
	require.NoError(t, err)

	assert.Equal(t, values(t, x1), values(t, x2))
	assert.Equal(t, values(t, y1), values(t, y2))
	assert.EqualValues(t, 1, impl.trainCalls.Load())

	for _, suffix := range []string{"x", "y"} {
		ok, err := rt.Cacher.Exists(context.Background(), b.Hash().String()+suffix, opts.Cache)
		require.NoError(t, err)
		assert.True(t, ok, suffix)
	}
}

func TestTrainingBlock_PredictCachesUnderPredictSuffix(t *testing.T) {
	rt, _ := newRuntime()
	impl := &scaleTrainer{k: 3}
	b, err := NewTrainingBlock("scale", impl, rt)
	require.NoError(t, err)
	opts := Options{Cache: npyArgs(t)}

	p1, err := b.Predict(context.Background(), column(1), opts)
	require.NoError(t, err)
	p2, err := b.Predict(context.Background(), column(7), opts)
	require.NoError(t, err)

	assert.Equal(t, []float64{3}, values(t, p1))
	assert.Equal(t, []float64{3}, values(t, p2))
	assert.EqualValues(t, 1, impl.predictCalls.Load())

	ok, err := rt.Cacher.Exists(context.Background(), b.Hash().String()+"p", opts.Cache)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrainingBlock_NilImplementationIsNotImplemented(t *testing.T) {
	b, err := NewTrainingBlock("empty", nil, Runtime{})
	require.NoError(t, err)

	_, _, err = b.Train(context.Background(), column(1), column(1), Options{})
	assert.True(t, errors.Is(err, core.ErrNotImplemented))
	_, err = b.Predict(context.Background(), column(1), Options{})
	assert.True(t, errors.Is(err, core.ErrNotImplemented))
}

// offsetModel learns the mean of y and predicts it.
type offsetModel struct {
	mean   float64
	fitted bool
}

func (o *offsetModel) CustomTrain(_ context.Context, x, y any, _ map[string]any) (any, any, error) {
	m, err := core.AsDense(y)
	if err != nil {
		return nil, nil, err
	}
	o.mean = mat.Sum(m) / float64(m.RawMatrix().Rows)
	o.fitted = true
	return x, y, nil
}

func (o *offsetModel) CustomPredict(_ context.Context, x any, _ map[string]any) (any, error) {
	if !o.fitted {
		return nil, errors.New("not fitted")
	}
	m, err := core.AsDense(x)
	if err != nil {
		return nil, err
	}
	r, _ := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, o.mean)
	}
	return out, nil
}

func (o *offsetModel) MarshalModel() ([]byte, error) {
	return []byte(strconv.FormatFloat(o.mean, 'g', -1, 64)), nil
}

func (o *offsetModel) UnmarshalModel(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	o.mean, o.fitted = v, true
	return nil
}

func TestTrainingBlock_CachedTrainRestoresCheckpointedModel(t *testing.T) {
	rt, _ := newRuntime()
	opts := Options{Cache: npyArgs(t)}

	first, err := NewTrainingBlock("offset", &offsetModel{}, rt)
	require.NoError(t, err)
	_, _, err = first.Train(context.Background(), column(1, 2), column(2, 4), opts)
	require.NoError(t, err)

	fresh := &offsetModel{}
	second, err := NewTrainingBlock("offset", fresh, rt)
	require.NoError(t, err)
	_, _, err = second.Train(context.Background(), column(0, 0), column(0, 0), opts)
	require.NoError(t, err)

	pred, err := second.Predict(context.Background(), column(9), Options{})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, values(t, pred))
}

func TestTrainingBlock_MissingCheckpointForcesRetrain(t *testing.T) {
	rt, _ := newRuntime()
	opts := Options{Cache: npyArgs(t)}

	b, err := NewTrainingBlock("offset", &offsetModel{}, rt)
	require.NoError(t, err)
	_, _, err = b.Train(context.Background(), column(1), column(2), opts)
	require.NoError(t, err)
	require.NoError(t, os.Remove(b.modelPath(opts.Cache)))

	fresh := &offsetModel{}
	again, err := NewTrainingBlock("offset", fresh, rt)
	require.NoError(t, err)
	_, _, err = again.Train(context.Background(), column(1), column(8), opts)
	require.NoError(t, err)
	assert.Equal(t, 8.0, fresh.mean)
}
