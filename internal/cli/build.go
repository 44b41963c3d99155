package cli

import (
	"fmt"
	"path/filepath"

	"epochalyst/internal/blocks"
	"epochalyst/internal/caching"
	"epochalyst/internal/config"
	"epochalyst/internal/core"
	"epochalyst/internal/pipeline"
)

// Model is a model pipeline built from configuration, together with the
// options its Train and Predict calls are made with.
//
// PredictOptions never cache: cached outputs are keyed by block hash, not by
// input data. They mark every x step with caching.ArgPredict.
type Model struct {
	Pipeline       *pipeline.ModelPipeline
	TrainOptions   pipeline.Options
	PredictOptions pipeline.Options
}

// BuildModel builds the model pipeline described by cfg.
//
// Each configured step becomes a block from reg. Step cache args inherit
// empty fields from cfg.Cache, and relative storage paths are resolved under
// workDir. An empty step list leaves the corresponding sub-system nil.
func BuildModel(cfg *config.Config, reg *blocks.Registry, rt pipeline.Runtime, workDir string) (*Model, error) {
	opts := pipeline.Options{Steps: map[string]pipeline.Options{}}
	predict := pipeline.Options{Steps: map[string]pipeline.Options{}}

	var xSys, ySys pipeline.Transformer
	if len(cfg.XSteps) > 0 {
		p, stepOpts, err := buildTransformations(cfg, reg, rt, workDir, pipeline.StepX, cfg.XSteps)
		if err != nil {
			return nil, err
		}
		xSys = p
		opts.Steps[pipeline.StepX] = stepOpts
		predict.Steps[pipeline.StepX] = predictOptions(cfg.XSteps)
	}
	if len(cfg.YSteps) > 0 {
		p, stepOpts, err := buildTransformations(cfg, reg, rt, workDir, pipeline.StepY, cfg.YSteps)
		if err != nil {
			return nil, err
		}
		ySys = p
		opts.Steps[pipeline.StepY] = stepOpts
	}

	var trainSys pipeline.Trainer
	if len(cfg.TrainSteps) > 0 {
		p, stepOpts, err := buildTraining(cfg, reg, rt, workDir, cfg.TrainSteps)
		if err != nil {
			return nil, err
		}
		trainSys = p
		opts.Steps[pipeline.StepTrain] = stepOpts
	}

	model, err := pipeline.NewModelPipeline(cfg.Name, xSys, ySys, trainSys, rt)
	if err != nil {
		return nil, err
	}
	return &Model{Pipeline: model, TrainOptions: opts, PredictOptions: predict}, nil
}

func predictOptions(steps []config.Step) pipeline.Options {
	out := pipeline.Options{Steps: map[string]pipeline.Options{}}
	for _, s := range steps {
		out.Steps[s.StepName()] = pipeline.Options{Args: map[string]any{caching.ArgPredict: true}}
	}
	return out
}

func buildTransformations(cfg *config.Config, reg *blocks.Registry, rt pipeline.Runtime, workDir, name string, steps []config.Step) (*pipeline.TransformationPipeline, pipeline.Options, error) {
	opts := pipeline.Options{Steps: map[string]pipeline.Options{}}
	out := make([]pipeline.Transformer, 0, len(steps))
	for _, s := range steps {
		impl, err := reg.Transformation(s.Block, s.Params)
		if err != nil {
			return nil, opts, fmt.Errorf("%s: %w", name, err)
		}
		if r, ok := impl.(blocks.PathResolver); ok {
			r.ResolvePaths(workDir)
		}
		b, err := pipeline.NewTransformationBlock(s.StepName(), impl, rt)
		if err != nil {
			return nil, opts, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, b)
		opts.Steps[s.StepName()] = pipeline.Options{Cache: stepCache(cfg, s, workDir)}
	}
	p, err := pipeline.NewTransformationPipeline(name, out, rt)
	if err != nil {
		return nil, opts, err
	}
	return p, opts, nil
}

func buildTraining(cfg *config.Config, reg *blocks.Registry, rt pipeline.Runtime, workDir string, steps []config.Step) (*pipeline.TrainingPipeline, pipeline.Options, error) {
	opts := pipeline.Options{Steps: map[string]pipeline.Options{}}
	out := make([]pipeline.Trainer, 0, len(steps))
	for _, s := range steps {
		impl, err := reg.Training(s.Block, s.Params)
		if err != nil {
			return nil, opts, fmt.Errorf("%s: %w", pipeline.StepTrain, err)
		}
		if r, ok := impl.(blocks.PathResolver); ok {
			r.ResolvePaths(workDir)
		}
		b, err := pipeline.NewTrainingBlock(s.StepName(), impl, rt)
		if err != nil {
			return nil, opts, fmt.Errorf("%s: %w", pipeline.StepTrain, err)
		}
		out = append(out, b)
		opts.Steps[s.StepName()] = pipeline.Options{Cache: stepCache(cfg, s, workDir)}
	}
	p, err := pipeline.NewTrainingPipeline(pipeline.StepTrain, out, rt)
	if err != nil {
		return nil, opts, err
	}
	return p, opts, nil
}

func stepCache(cfg *config.Config, s config.Step, workDir string) *core.CacheArgs {
	args := cfg.StepCache(s)
	if args == nil {
		return nil
	}
	if args.StoragePath != "" && !filepath.IsAbs(args.StoragePath) {
		args.StoragePath = filepath.Join(workDir, args.StoragePath)
	}
	return args
}

// HashLine is one block of a model pipeline and its hash.
type HashLine struct {
	Path string
	Hash core.BlockHash
}

// Describe lists the hash of the model pipeline and of every nested block,
// depth first. Paths join pipeline and step names with "/".
func Describe(m *pipeline.ModelPipeline) []HashLine {
	lines := []HashLine{{Path: m.Name(), Hash: m.Hash()}}
	if m.XSys != nil {
		lines = append(lines, describeNode(m.Name(), m.XSys)...)
	}
	if m.YSys != nil {
		lines = append(lines, describeNode(m.Name(), m.YSys)...)
	}
	if m.TrainSys != nil {
		lines = append(lines, describeNode(m.Name(), m.TrainSys)...)
	}
	return lines
}

func describeNode(prefix string, n interface {
	Name() string
	Hash() core.BlockHash
}) []HashLine {
	path := prefix + "/" + n.Name()
	lines := []HashLine{{Path: path, Hash: n.Hash()}}
	switch p := n.(type) {
	case *pipeline.TransformationPipeline:
		for _, s := range p.Steps() {
			lines = append(lines, describeNode(path, s)...)
		}
	case *pipeline.TrainingPipeline:
		for _, s := range p.Steps() {
			lines = append(lines, describeNode(path, s)...)
		}
	}
	return lines
}
