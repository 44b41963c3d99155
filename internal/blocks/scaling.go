package blocks

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"epochalyst/internal/core"
	"epochalyst/internal/pipeline"
)

// standardize rescales each column to zero mean and unit variance. The
// statistics are fitted on the training x and reused unchanged for every
// prediction, so it is a training step that passes y through. Constant
// columns are only centered.
type standardize struct {
	// stats holds the column means in row 0 and the standard deviations in row 1.
	stats *mat.Dense
}

func newStandardize(Params) (pipeline.CustomTrainer, error) { return &standardize{}, nil }

func (s *standardize) CustomTrain(ctx context.Context, x, y any, args map[string]any) (any, any, error) {
	xm, err := core.AsDense(x)
	if err != nil {
		return nil, nil, fmt.Errorf("x: %w", err)
	}
	_, c := xm.Dims()
	s.stats = mat.NewDense(2, c, nil)
	for j := 0; j < c; j++ {
		mean, std := stat.MeanStdDev(mat.Col(nil, j, xm), nil)
		s.stats.Set(0, j, mean)
		s.stats.Set(1, j, std)
	}
	out, err := s.CustomPredict(ctx, x, args)
	if err != nil {
		return nil, nil, err
	}
	return out, y, nil
}

func (s *standardize) CustomPredict(_ context.Context, x any, _ map[string]any) (any, error) {
	if s.stats == nil {
		return nil, ErrNotFitted
	}
	xm, err := core.AsDense(x)
	if err != nil {
		return nil, err
	}
	_, c := xm.Dims()
	if _, fc := s.stats.Dims(); fc != c {
		return nil, fmt.Errorf("%w: x has %d columns, standardize was fitted on %d", core.ErrUnsupportedData, c, fc)
	}
	return mapValues(x, func(j int, v float64) float64 {
		mean, std := s.stats.At(0, j), s.stats.At(1, j)
		if std == 0 || math.IsNaN(std) {
			return v - mean
		}
		return (v - mean) / std
	})
}

func (s *standardize) MarshalModel() ([]byte, error) {
	if s.stats == nil {
		return nil, ErrNotFitted
	}
	stats, err := s.stats.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return fitted{Coef: stats}.encode()
}

func (s *standardize) UnmarshalModel(data []byte) error {
	_, stats, err := decodeFitted(data)
	if err != nil {
		return err
	}
	s.stats = stats
	return nil
}
