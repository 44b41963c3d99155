package blocks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/caching"
	"epochalyst/internal/core"
	"epochalyst/internal/pipeline"
	"epochalyst/internal/storage"
)

type countingDouble struct{ calls int }

func (c *countingDouble) CustomTransform(_ context.Context, data any, _ map[string]any) (any, error) {
	c.calls++
	return mapValues(data, func(_ int, v float64) float64 { return 2 * v })
}

func fullCachePipeline(t *testing.T, dir string) (*pipeline.TransformationPipeline, *countingDouble) {
	t.Helper()
	impl, err := Builtin().Transformation("cache_full", map[string]any{"data_path": "full"})
	require.NoError(t, err)
	impl.(PathResolver).ResolvePaths(dir)

	double := &countingDouble{}
	rt := pipeline.Runtime{}
	d, err := pipeline.NewTransformationBlock("double", double, rt)
	require.NoError(t, err)
	full, err := pipeline.NewTransformationBlock("cache_full", impl, rt)
	require.NoError(t, err)
	lg, err := Builtin().Transformation("log1p", nil)
	require.NoError(t, err)
	l, err := pipeline.NewTransformationBlock("log1p", lg, rt)
	require.NoError(t, err)

	p, err := pipeline.NewTransformationPipeline("x_sys", []pipeline.Transformer{d, full, l}, rt)
	require.NoError(t, err)
	return p, double
}

func TestCacheFull_RequiresDataPath(t *testing.T) {
	_, err := Builtin().Transformation("cache_full", nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestCacheFull_HashIgnoresWorkspaceDirectory(t *testing.T) {
	a, _ := fullCachePipeline(t, t.TempDir())
	b, _ := fullCachePipeline(t, t.TempDir())
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestCacheFull_PipelineResumesFromStoredStack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, double := fullCachePipeline(t, dir)
	opts := pipeline.Options{Steps: map[string]pipeline.Options{
		"cache_full": {Cache: &core.CacheArgs{
			OutputDataType: core.DaskArray,
			StorageType:    core.StorageNpyStack,
			StoragePath:    filepath.Join(dir, "cache"),
		}},
	}}
	x := mat.NewDense(3, 1, []float64{0, 1, 2})

	first, err := p.Transform(ctx, x, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, double.calls)
	ok, err := storage.NpyStackCodec{}.Exists(filepath.Join(dir, "full"))
	require.NoError(t, err)
	assert.True(t, ok, "full array stored under the workspace")

	second, err := p.Transform(ctx, x, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, double.calls, "steps before the cached full array are skipped")
	assert.Equal(t, pipeline.StepSkipped, p.LastRun()["double"])
	assert.Equal(t, pipeline.StepCached, p.LastRun()["cache_full"])
	assert.Equal(t, pipeline.StepCompleted, p.LastRun()["log1p"])

	a, err := core.AsDense(first)
	require.NoError(t, err)
	b, err := core.AsDense(second)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}

func TestCacheFull_StoredArrayWinsUnlessPredicting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, _ := fullCachePipeline(t, dir)

	_, err := p.Transform(ctx, mat.NewDense(2, 1, []float64{1, 2}), pipeline.Options{})
	require.NoError(t, err)

	// Without step caching the upstream step runs, but the stored array is returned.
	out, err := p.Transform(ctx, mat.NewDense(1, 1, []float64{50}), pipeline.Options{})
	require.NoError(t, err)
	m, err := core.AsDense(out)
	require.NoError(t, err)
	r, _ := m.Dims()
	assert.Equal(t, 2, r)

	predict := pipeline.Options{Steps: map[string]pipeline.Options{
		"cache_full": {Args: map[string]any{caching.ArgPredict: true}},
	}}
	out, err = p.Transform(ctx, mat.NewDense(1, 1, []float64{50}), predict)
	require.NoError(t, err)
	m, err = core.AsDense(out)
	require.NoError(t, err)
	assert.InDelta(t, 4.61512051684126, m.At(0, 0), 1e-9) // log1p(100)
}
