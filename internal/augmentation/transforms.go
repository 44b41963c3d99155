package augmentation

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const defaultProbability = 0.5

func orDefault(p float64) float64 {
	if p == 0 {
		return defaultProbability
	}
	return p
}

// NoOp returns x unchanged. P defaults to 0.5.
type NoOp struct {
	P float64
}

func (n NoOp) Apply(x *mat.Dense) *mat.Dense { return x }

func (n NoOp) Probability() float64 { return orDefault(n.P) }

// GaussianNoise adds N(0, Sigma) noise to every element.
type GaussianNoise struct {
	P     float64
	Sigma float64
}

func (g GaussianNoise) Apply(x *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(x)
	if g.Sigma <= 0 {
		return out
	}
	noise := distuv.Normal{Mu: 0, Sigma: g.Sigma}
	out.Apply(func(_, _ int, v float64) float64 { return v + noise.Rand() }, out)
	return out
}

func (g GaussianNoise) Probability() float64 { return orDefault(g.P) }

// Flip reverses the column order of x.
type Flip struct {
	P float64
}

func (f Flip) Apply(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		out.SetCol(c-1-j, mat.Col(nil, j, x))
	}
	return out
}

func (f Flip) Probability() float64 { return orDefault(f.P) }

// MixUp mixes each row with the row at the mirrored position, using one
// weight drawn from Beta(Alpha, Alpha) for the whole batch. Labels are mixed
// with the same weight. Alpha defaults to 0.4.
type MixUp struct {
	P     float64
	Alpha float64
}

func (m MixUp) ApplyXY(x, y *mat.Dense) (*mat.Dense, *mat.Dense) {
	alpha := m.Alpha
	if alpha <= 0 {
		alpha = 0.4
	}
	lambda := distuv.Beta{Alpha: alpha, Beta: alpha}.Rand()
	return Mix(x, lambda), Mix(y, lambda)
}

func (m MixUp) Probability() float64 { return orDefault(m.P) }

// Mix returns lambda*a + (1-lambda)*reversedRows(a).
func Mix(a *mat.Dense, lambda float64) *mat.Dense {
	if a == nil {
		return nil
	}
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, lambda*a.At(i, j)+(1-lambda)*a.At(r-1-i, j))
		}
	}
	return out
}
