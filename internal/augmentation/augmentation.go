// Package augmentation composes data augmentations for training blocks.
//
// Transforms never modify their inputs; they return new matrices.
package augmentation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidProbabilities is returned when ApplyOne cannot build a
// distribution from its transforms' probabilities.
var ErrInvalidProbabilities = errors.New("invalid augmentation probabilities")

// XTransform augments features only.
type XTransform interface {
	Apply(x *mat.Dense) *mat.Dense
	Probability() float64
}

// XYTransform augments features and labels together.
type XYTransform interface {
	ApplyXY(x, y *mat.Dense) (*mat.Dense, *mat.Dense)
	Probability() float64
}

// Sequential applies every x transform, then every xy transform.
// Probabilities are not consulted.
type Sequential struct {
	X  []XTransform
	XY []XYTransform
}

func (s Sequential) Apply(x, y *mat.Dense) (*mat.Dense, *mat.Dense) {
	for _, t := range s.X {
		x = t.Apply(x)
	}
	for _, t := range s.XY {
		x, y = t.ApplyXY(x, y)
	}
	return x, y
}

// ApplyOne applies exactly one transform per call, chosen at random with
// weights proportional to the transforms' probabilities.
type ApplyOne struct {
	X  []XTransform
	XY []XYTransform

	weights []float64
	dist    distuv.Categorical
}

// NewApplyOne normalizes the transforms' probabilities to sum to one.
// A negative probability or a non-positive sum is an error.
func NewApplyOne(x []XTransform, xy []XYTransform) (*ApplyOne, error) {
	weights := make([]float64, 0, len(x)+len(xy))
	for _, t := range x {
		weights = append(weights, t.Probability())
	}
	for _, t := range xy {
		weights = append(weights, t.Probability())
	}

	sum := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: transform %d has probability %v", ErrInvalidProbabilities, i, w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: probabilities sum to %v", ErrInvalidProbabilities, sum)
	}
	for i := range weights {
		weights[i] /= sum
	}

	return &ApplyOne{
		X:       x,
		XY:      xy,
		weights: weights,
		dist:    distuv.NewCategorical(weights, nil),
	}, nil
}

// Weights returns the normalized selection probabilities, x transforms first.
func (a *ApplyOne) Weights() []float64 {
	out := make([]float64, len(a.weights))
	copy(out, a.weights)
	return out
}

func (a *ApplyOne) Apply(x, y *mat.Dense) (*mat.Dense, *mat.Dense) {
	i := int(a.dist.Rand())
	if i < len(a.X) {
		return a.X[i].Apply(x), y
	}
	return a.XY[i-len(a.X)].ApplyXY(x, y)
}
