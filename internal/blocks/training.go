package blocks

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"epochalyst/internal/augmentation"
	"epochalyst/internal/core"
	"epochalyst/internal/logging"
	"epochalyst/internal/pipeline"
)

// ErrNotFitted is returned by Predict before Train.
var ErrNotFitted = errors.New("model is not fitted")

const metricTrainRMSE = "train_rmse"

// fitted is the state shared by the built-in trainers: one row of
// coefficients per input feature (plus an intercept row) and the target
// column names predictions are labelled with.
type fitted struct {
	Coef      []byte
	Intercept bool
	Targets   []string
}

func (f fitted) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFitted(b []byte) (fitted, *mat.Dense, error) {
	var f fitted
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&f); err != nil {
		return fitted{}, nil, err
	}
	var coef mat.Dense
	if err := coef.UnmarshalBinary(f.Coef); err != nil {
		return fitted{}, nil, err
	}
	return f, &coef, nil
}

func targetColumns(y any, m *mat.Dense) []string {
	if f, ok := y.(*core.Frame); ok {
		return append([]string(nil), f.Columns...)
	}
	return core.PositionalColumns(m)
}

func labelled(m *mat.Dense, targets []string) (any, error) {
	_, c := m.Dims()
	if len(targets) != c {
		return m, nil
	}
	return core.NewFrame(targets, m)
}

func design(x *mat.Dense, intercept bool) *mat.Dense {
	if !intercept {
		return x
	}
	r, _ := x.Dims()
	ones := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		ones.Set(i, 0, 1)
	}
	var out mat.Dense
	out.Augment(ones, x)
	return &out
}

func rmse(pred, y *mat.Dense) float64 {
	r, c := y.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := pred.At(i, j) - y.At(i, j)
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(r*c))
}

func trainingInputs(x, y any) (*mat.Dense, *mat.Dense, error) {
	xm, err := core.AsDense(x)
	if err != nil {
		return nil, nil, fmt.Errorf("x: %w", err)
	}
	ym, err := core.AsDense(y)
	if err != nil {
		return nil, nil, fmt.Errorf("y: %w", err)
	}
	xr, _ := xm.Dims()
	yr, _ := ym.Dims()
	if xr != yr {
		return nil, nil, fmt.Errorf("%w: x has %d rows, y has %d", core.ErrUnsupportedData, xr, yr)
	}
	return xm, ym, nil
}

// meanBaseline predicts the per-column mean of the training targets.
type meanBaseline struct {
	means   *mat.Dense
	targets []string
}

func newMeanBaseline(Params) (pipeline.CustomTrainer, error) { return &meanBaseline{}, nil }

func (b *meanBaseline) CustomTrain(ctx context.Context, x, y any, args map[string]any) (any, any, error) {
	_, ym, err := trainingInputs(x, y)
	if err != nil {
		return nil, nil, err
	}
	_, c := ym.Dims()
	b.means = mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		b.means.Set(0, j, stat.Mean(mat.Col(nil, j, ym), nil))
	}
	b.targets = targetColumns(y, ym)
	pred, err := b.CustomPredict(ctx, x, args)
	if err != nil {
		return nil, nil, err
	}
	return pred, y, nil
}

func (b *meanBaseline) CustomPredict(_ context.Context, x any, _ map[string]any) (any, error) {
	if b.means == nil {
		return nil, ErrNotFitted
	}
	xm, err := core.AsDense(x)
	if err != nil {
		return nil, err
	}
	r, _ := xm.Dims()
	_, c := b.means.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		out.SetRow(i, b.means.RawRowView(0))
	}
	return labelled(out, b.targets)
}

func (b *meanBaseline) MarshalModel() ([]byte, error) {
	if b.means == nil {
		return nil, ErrNotFitted
	}
	coef, err := b.means.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return fitted{Coef: coef, Targets: b.targets}.encode()
}

func (b *meanBaseline) UnmarshalModel(data []byte) error {
	f, coef, err := decodeFitted(data)
	if err != nil {
		return err
	}
	b.means, b.targets = coef, f.Targets
	return nil
}

type augmenter interface {
	Apply(x, y *mat.Dense) (*mat.Dense, *mat.Dense)
}

// linearRegression fits ordinary least squares. When augmentation is
// configured, an augmented copy of the training set is appended before the
// fit. The training RMSE on the original rows is reported as an external
// metric.
type linearRegression struct {
	fitIntercept bool
	noiseSigma   float64
	mixupAlpha   float64
	mode         string
	aug          augmenter

	coef    *mat.Dense
	targets []string
	log     logging.Logger
}

func newLinearRegression(p Params) (pipeline.CustomTrainer, error) {
	fitIntercept, err := p.Bool("fit_intercept", true)
	if err != nil {
		return nil, err
	}
	sigma, err := p.Float("noise_sigma", 0)
	if err != nil {
		return nil, err
	}
	alpha, err := p.Float("mixup_alpha", 0)
	if err != nil {
		return nil, err
	}
	mode, err := p.String("augment", "all")
	if err != nil {
		return nil, err
	}
	if sigma < 0 || alpha < 0 {
		return nil, fmt.Errorf("%w: noise_sigma and mixup_alpha must be >= 0", ErrInvalidParams)
	}

	var xs []augmentation.XTransform
	var xys []augmentation.XYTransform
	if sigma > 0 {
		xs = append(xs, augmentation.GaussianNoise{P: 1, Sigma: sigma})
	}
	if alpha > 0 {
		xys = append(xys, augmentation.MixUp{P: 1, Alpha: alpha})
	}

	l := &linearRegression{fitIntercept: fitIntercept, noiseSigma: sigma, mixupAlpha: alpha, mode: mode, log: logging.Nop()}
	switch {
	case len(xs)+len(xys) == 0:
	case mode == "all":
		l.aug = augmentation.Sequential{X: xs, XY: xys}
	case mode == "one":
		one, err := augmentation.NewApplyOne(xs, xys)
		if err != nil {
			return nil, err
		}
		l.aug = one
	default:
		return nil, fmt.Errorf("%w: augment must be \"all\" or \"one\", got %q", ErrInvalidParams, mode)
	}
	return l, nil
}

func (l *linearRegression) Params() map[string]any {
	return map[string]any{
		"fit_intercept": l.fitIntercept,
		"noise_sigma":   l.noiseSigma,
		"mixup_alpha":   l.mixupAlpha,
		"augment":       l.mode,
	}
}

func (l *linearRegression) SetLogger(log logging.Logger) { l.log = logging.OrNop(log) }

func (l *linearRegression) CustomTrain(ctx context.Context, x, y any, args map[string]any) (any, any, error) {
	xm, ym, err := trainingInputs(x, y)
	if err != nil {
		return nil, nil, err
	}

	fitX, fitY := xm, ym
	if l.aug != nil {
		ax, ay := l.aug.Apply(xm, ym)
		var sx, sy mat.Dense
		sx.Stack(xm, ax)
		sy.Stack(ym, ay)
		fitX, fitY = &sx, &sy
		l.log.LogToDebug(fmt.Sprintf("linear_regression: fitting on %d rows including augmented copies", fitX.RawMatrix().Rows))
	}

	var coef mat.Dense
	if err := coef.Solve(design(fitX, l.fitIntercept), fitY); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, nil, fmt.Errorf("solving least squares: %w", err)
		}
		l.log.LogToWarning(fmt.Sprintf("linear_regression: ill-conditioned fit (%v)", err))
	}
	l.coef = &coef
	l.targets = targetColumns(y, ym)

	var pred mat.Dense
	pred.Mul(design(xm, l.fitIntercept), l.coef)
	score := rmse(&pred, ym)
	l.log.ExternalDefineMetric(metricTrainRMSE, "min")
	l.log.LogToExternal(map[string]any{metricTrainRMSE: score})
	l.log.LogToTerminal(fmt.Sprintf("linear_regression: train rmse %.6g", score))

	out, err := labelled(&pred, l.targets)
	if err != nil {
		return nil, nil, err
	}
	return out, y, nil
}

func (l *linearRegression) CustomPredict(_ context.Context, x any, _ map[string]any) (any, error) {
	if l.coef == nil {
		return nil, ErrNotFitted
	}
	xm, err := core.AsDense(x)
	if err != nil {
		return nil, err
	}
	d := design(xm, l.fitIntercept)
	_, dc := d.Dims()
	cr, _ := l.coef.Dims()
	if dc != cr {
		return nil, fmt.Errorf("%w: x has %d features, model expects %d", core.ErrUnsupportedData, dc, cr)
	}
	var pred mat.Dense
	pred.Mul(d, l.coef)
	return labelled(&pred, l.targets)
}

func (l *linearRegression) MarshalModel() ([]byte, error) {
	if l.coef == nil {
		return nil, ErrNotFitted
	}
	coef, err := l.coef.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return fitted{Coef: coef, Intercept: l.fitIntercept, Targets: l.targets}.encode()
}

func (l *linearRegression) UnmarshalModel(data []byte) error {
	f, coef, err := decodeFitted(data)
	if err != nil {
		return err
	}
	if f.Intercept != l.fitIntercept {
		return fmt.Errorf("checkpoint fit_intercept=%v, block has %v", f.Intercept, l.fitIntercept)
	}
	l.coef, l.targets = coef, f.Targets
	return nil
}
