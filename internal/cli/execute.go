package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/blocks"
	"epochalyst/internal/caching"
	"epochalyst/internal/catalog"
	"epochalyst/internal/config"
	"epochalyst/internal/core"
	"epochalyst/internal/logging"
	"epochalyst/internal/pipeline"
	"epochalyst/internal/storage"
	"epochalyst/internal/trace"
)

// CLIResult is the outcome of a run.
type CLIResult struct {
	ExitCode     int
	RunID        string
	PipelineHash string
}

// Execute trains the configured model on the train CSV, predicts the test
// CSV and writes the predictions.
//
// The run is recorded in the catalog from the moment the pipeline is built.
// The trace, when enabled, is written even if the run fails. Panics are
// reported as internal errors.
func Execute(ctx context.Context, inv Invocation) (res CLIResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	cfg, err := config.Load(inv.ConfigPath)
	if err != nil {
		if !errors.Is(err, config.ErrInvalidConfig) {
			err = &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
		}
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	if inv.Verbose {
		cfg.Logging.Level = "debug"
	}
	if p := cfg.Logging.ExternalPath; p != "" && !filepath.IsAbs(p) {
		cfg.Logging.ExternalPath = filepath.Join(inv.WorkDir, p)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		err = fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	defer func() { _ = log.Sync() }()

	cat, err := catalog.Open(underWorkDir(inv.WorkDir, cfg.CatalogPath))
	if err != nil {
		return CLIResult{ExitCode: ExitInternalError}, err
	}
	defer cat.Close()

	runID := uuid.NewString()
	rec := trace.NewRecorder()
	rt := pipeline.Runtime{
		Cacher: caching.NewCacher(log, &catalog.Recorder{Catalog: cat, RunID: runID}),
		Logger: log,
		Trace:  rec,
	}

	model, err := BuildModel(cfg, blocks.Builtin(), rt, inv.WorkDir)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	res = CLIResult{RunID: runID, PipelineHash: model.Pipeline.Hash().String()}

	if err := cat.StartRun(ctx, catalog.Run{RunID: runID, PipelineHash: res.PipelineHash}); err != nil {
		res.ExitCode = ExitInternalError
		return res, err
	}
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			err = fmt.Errorf("internal error: %v", r)
		}
		if inv.Trace.Enabled {
			if werr := trace.WriteFile(inv.Trace.Path, rec.Trace(res.PipelineHash)); werr != nil {
				log.LogToWarning(fmt.Sprintf("writing trace: %v", werr))
				if err == nil {
					res.ExitCode = ExitInternalError
					err = werr
				}
			}
		}
		// The run context may already be cancelled; the run record must still close.
		if ferr := cat.FinishRun(context.WithoutCancel(ctx), runID, err); ferr != nil {
			log.LogToWarning(fmt.Sprintf("finishing run %s: %v", runID, ferr))
		}
	}()

	log.LogToTerminal(fmt.Sprintf("run %s: model %s (%s)", runID, cfg.Name, model.Pipeline.Hash().Short()))

	x, y, err := readTraining(inv.TrainPath, inv.Targets)
	if err != nil {
		res.ExitCode = ExitInvalidInvocation
		return res, &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
	}
	test, err := readFrame(inv.TestPath)
	if err != nil {
		res.ExitCode = ExitInvalidInvocation
		return res, &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
	}

	if _, _, err := model.Pipeline.Train(ctx, x, y, model.TrainOptions); err != nil {
		err = &PipelineFailure{Stage: "train", Err: err}
		res.ExitCode = ExitCode(err)
		return res, err
	}
	pred, err := model.Pipeline.Predict(ctx, test, model.PredictOptions)
	if err != nil {
		err = &PipelineFailure{Stage: "predict", Err: err}
		res.ExitCode = ExitCode(err)
		return res, err
	}

	out, err := predictionFrame(pred, inv.Targets)
	if err != nil {
		err = &PipelineFailure{Stage: "predict", Err: err}
		res.ExitCode = ExitCode(err)
		return res, err
	}
	if err := (storage.CSVCodec{}).Write(inv.OutputPath, out); err != nil {
		res.ExitCode = ExitInternalError
		return res, fmt.Errorf("writing predictions: %w", err)
	}
	log.LogToTerminal(fmt.Sprintf("run %s: wrote predictions to %s", runID, inv.OutputPath))
	return res, nil
}

func underWorkDir(workDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}

func readFrame(path string) (*core.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	frame, err := storage.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return frame, nil
}

// readTraining reads the train CSV and splits it into feature and target
// frames. Target columns keep the order they were requested in.
func readTraining(path string, targets []string) (*core.Frame, *core.Frame, error) {
	frame, err := readFrame(path)
	if err != nil {
		return nil, nil, err
	}
	isTarget := map[string]bool{}
	var yIdx []int
	for _, t := range targets {
		i := frame.Column(t)
		if i < 0 {
			return nil, nil, fmt.Errorf("%s has no target column %q", path, t)
		}
		isTarget[t] = true
		yIdx = append(yIdx, i)
	}
	var xCols []string
	var xIdx []int
	for i, c := range frame.Columns {
		if !isTarget[c] {
			xCols = append(xCols, c)
			xIdx = append(xIdx, i)
		}
	}
	if len(xIdx) == 0 {
		return nil, nil, fmt.Errorf("%s has no feature columns", path)
	}
	x, err := core.NewFrame(xCols, pickColumns(frame.Values, xIdx))
	if err != nil {
		return nil, nil, err
	}
	y, err := core.NewFrame(targets, pickColumns(frame.Values, yIdx))
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func pickColumns(m *mat.Dense, idx []int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, len(idx), nil)
	for j, src := range idx {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, src))
		}
	}
	return out
}

// predictionFrame names prediction columns after the targets when the widths
// agree; otherwise the prediction keeps its own (or positional) names.
func predictionFrame(pred any, targets []string) (*core.Frame, error) {
	m, err := core.AsDense(pred)
	if err != nil {
		return nil, err
	}
	if _, c := m.Dims(); c == len(targets) {
		return core.NewFrame(targets, m)
	}
	if f, ok := pred.(*core.Frame); ok {
		return f, nil
	}
	return core.NewFrame(core.PositionalColumns(m), m)
}
