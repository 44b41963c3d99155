package augmentation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type countingX struct {
	p     float64
	calls int
}

func (c *countingX) Apply(x *mat.Dense) *mat.Dense {
	c.calls++
	return x
}

func (c *countingX) Probability() float64 { return c.p }

type countingXY struct {
	p     float64
	calls int
}

func (c *countingXY) ApplyXY(x, y *mat.Dense) (*mat.Dense, *mat.Dense) {
	c.calls++
	return x, y
}

func (c *countingXY) Probability() float64 { return c.p }

func TestSequential_AppliesEveryTransformInOrder(t *testing.T) {
	x := mat.NewDense(1, 3, []float64{1, 2, 3})
	y := mat.NewDense(1, 1, []float64{1})

	s := Sequential{X: []XTransform{Flip{}, NoOp{}}}
	gotX, gotY := s.Apply(x, y)

	assert.Equal(t, []float64{3, 2, 1}, gotX.RawMatrix().Data)
	assert.Same(t, y, gotY)
	assert.Equal(t, []float64{1, 2, 3}, x.RawMatrix().Data, "input must not be modified")
}

func TestNewApplyOne_NormalizesProbabilities(t *testing.T) {
	a, err := NewApplyOne([]XTransform{NoOp{P: 1}, NoOp{P: 3}}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, a.Weights(), 1e-12)
}

func TestNewApplyOne_DefaultProbabilityForNoOp(t *testing.T) {
	a, err := NewApplyOne([]XTransform{NoOp{}, NoOp{}}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, a.Weights(), 1e-12)
}

func TestNewApplyOne_RejectsInvalidProbabilities(t *testing.T) {
	cases := []struct {
		name string
		x    []XTransform
	}{
		{name: "empty", x: nil},
		{name: "all zero", x: []XTransform{&countingX{p: 0}}},
		{name: "negative", x: []XTransform{&countingX{p: -1}, &countingX{p: 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewApplyOne(tc.x, nil)
			assert.True(t, errors.Is(err, ErrInvalidProbabilities))
		})
	}
}

func TestApplyOne_AppliesExactlyOneTransformPerCall(t *testing.T) {
	a1 := &countingX{p: 1}
	a2 := &countingX{p: 1}
	b := &countingXY{p: 1}
	a, err := NewApplyOne([]XTransform{a1, a2}, []XYTransform{b})
	require.NoError(t, err)

	x := mat.NewDense(1, 1, []float64{1})
	const n = 300
	for i := 0; i < n; i++ {
		a.Apply(x, x)
	}
	assert.Equal(t, n, a1.calls+a2.calls+b.calls)
	assert.Positive(t, a1.calls)
	assert.Positive(t, a2.calls)
	assert.Positive(t, b.calls)
}

func TestApplyOne_ZeroWeightTransformIsNeverChosen(t *testing.T) {
	never := &countingX{p: 0}
	always := &countingXY{p: 1}
	a, err := NewApplyOne([]XTransform{never}, []XYTransform{always})
	require.NoError(t, err)

	x := mat.NewDense(1, 1, []float64{1})
	for i := 0; i < 50; i++ {
		a.Apply(x, x)
	}
	assert.Zero(t, never.calls)
	assert.Equal(t, 50, always.calls)
}

func TestGaussianNoise_ZeroSigmaCopies(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{1, 2})
	out := GaussianNoise{}.Apply(x)
	assert.True(t, mat.Equal(x, out))
	assert.NotSame(t, x, out)
}

func TestGaussianNoise_PerturbsValues(t *testing.T) {
	x := mat.NewDense(50, 1, nil)
	out := GaussianNoise{Sigma: 1}.Apply(x)
	assert.False(t, mat.Equal(x, out))
}

func TestMix_MixesWithMirroredRows(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{0, 10})
	out := Mix(a, 0.25)
	assert.InDeltaSlice(t, []float64{7.5, 2.5}, out.RawMatrix().Data, 1e-12)
}

func TestMixUp_KeepsShapesAndBounds(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{0, 0, 1, 1, 2, 2})
	y := mat.NewDense(3, 1, []float64{0, 1, 2})

	gotX, gotY := MixUp{Alpha: 0.4}.ApplyXY(x, y)
	r, c := gotX.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	for _, v := range gotY.RawMatrix().Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 2.0)
	}
	// The middle row mirrors onto itself.
	assert.InDelta(t, 1.0, gotY.At(1, 0), 1e-12)
}
