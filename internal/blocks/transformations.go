package blocks

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/caching"
	"epochalyst/internal/core"
	"epochalyst/internal/pipeline"
)

// mapValues applies fn to every element and returns a value of the same
// Go type as data. The input is not modified.
func mapValues(data any, fn func(j int, v float64) float64) (any, error) {
	apply := func(m *mat.Dense) *mat.Dense {
		var out mat.Dense
		out.Apply(func(_, j int, v float64) float64 { return fn(j, v) }, m)
		return &out
	}
	switch v := data.(type) {
	case *core.Frame:
		if v == nil || v.Values == nil {
			return nil, fmt.Errorf("%w: nil frame", core.ErrUnsupportedData)
		}
		return core.NewFrame(v.Columns, apply(v.Values))
	case *core.Chunked:
		if v == nil {
			return nil, fmt.Errorf("%w: nil chunked array", core.ErrUnsupportedData)
		}
		out := &core.Chunked{Chunks: make([]*mat.Dense, len(v.Chunks))}
		for i, ch := range v.Chunks {
			out.Chunks[i] = apply(ch)
		}
		return out, nil
	default:
		m, err := core.AsDense(data)
		if err != nil {
			return nil, err
		}
		return apply(m), nil
	}
}

type log1p struct{}

func newLog1p(Params) (pipeline.CustomTransformer, error) { return &log1p{}, nil }

func (log1p) CustomTransform(_ context.Context, data any, _ map[string]any) (any, error) {
	return mapValues(data, func(_ int, v float64) float64 { return math.Log1p(v) })
}

// clip bounds every element to [min, max].
type clip struct {
	min, max float64
	params   map[string]any
}

func newClip(p Params) (pipeline.CustomTransformer, error) {
	if !p.Has("min") && !p.Has("max") {
		return nil, fmt.Errorf("%w: clip needs min or max", ErrInvalidParams)
	}
	lo, err := p.Float("min", math.Inf(-1))
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", math.Inf(1))
	if err != nil {
		return nil, err
	}
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return nil, fmt.Errorf("%w: clip bounds must not be NaN", ErrInvalidParams)
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: clip min %v > max %v", ErrInvalidParams, lo, hi)
	}
	// Infinite bounds clip nothing and have no JSON encoding, so they stay
	// out of the hashed params.
	params := map[string]any{}
	if !math.IsInf(lo, 0) {
		params["min"] = lo
	}
	if !math.IsInf(hi, 0) {
		params["max"] = hi
	}
	return &clip{min: lo, max: hi, params: params}, nil
}

func (c *clip) Params() map[string]any { return c.params }

func (c *clip) CustomTransform(_ context.Context, data any, _ map[string]any) (any, error) {
	return mapValues(data, func(_ int, v float64) float64 {
		return math.Max(c.min, math.Min(c.max, v))
	})
}

// fillNaN replaces NaN elements with a constant.
type fillNaN struct {
	value float64
}

func newFillNaN(p Params) (pipeline.CustomTransformer, error) {
	v, err := p.Float("value", 0)
	if err != nil {
		return nil, err
	}
	return &fillNaN{value: v}, nil
}

func (f *fillNaN) Params() map[string]any { return map[string]any{"value": f.value} }

func (f *fillNaN) CustomTransform(_ context.Context, data any, _ map[string]any) (any, error) {
	return mapValues(data, func(_ int, v float64) float64 {
		if math.IsNaN(v) {
			return f.value
		}
		return v
	})
}

// selectColumns keeps the named columns in the given order. Dense arrays use
// positional names "0".."n-1".
type selectColumns struct {
	columns []string
}

func newSelect(p Params) (pipeline.CustomTransformer, error) {
	cols, err := p.Strings("columns")
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: select needs columns", ErrInvalidParams)
	}
	return &selectColumns{columns: cols}, nil
}

func (s *selectColumns) Params() map[string]any {
	return map[string]any{"columns": s.columns}
}

func (s *selectColumns) CustomTransform(_ context.Context, data any, _ map[string]any) (any, error) {
	frame, isFrame := data.(*core.Frame)
	if !isFrame {
		m, err := core.AsDense(data)
		if err != nil {
			return nil, err
		}
		if frame, err = core.NewFrame(core.PositionalColumns(m), m); err != nil {
			return nil, err
		}
	}

	r, _ := frame.Values.Dims()
	out := mat.NewDense(r, len(s.columns), nil)
	for j, name := range s.columns {
		idx := frame.Column(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: no column %q", core.ErrUnsupportedData, name)
		}
		out.SetCol(j, mat.Col(nil, idx, frame.Values))
	}
	if isFrame {
		return core.NewFrame(s.columns, out)
	}
	return out, nil
}

// newCacheFull builds the full-array cache step. data_path is resolved
// against the workspace by the caller.
func newCacheFull(p Params) (pipeline.CustomTransformer, error) {
	path, err := p.String("data_path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: cache_full needs data_path", ErrInvalidParams)
	}
	return &caching.FullBlock{DataPath: path}, nil
}
