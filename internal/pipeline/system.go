package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"epochalyst/internal/core"
	"epochalyst/internal/trace"
)

type named interface {
	Name() string
}

func validateSteps[T named](pipeline string, steps []T) ([]string, error) {
	if strings.TrimSpace(pipeline) == "" {
		return nil, invalidf("pipeline name is required")
	}
	seen := make(map[string]bool, len(steps))
	names := make([]string, 0, len(steps))
	for i, s := range steps {
		if any(s) == nil {
			return nil, invalidf("step %d of %q is nil", i, pipeline)
		}
		name := s.Name()
		if seen[name] {
			return nil, duplicateStep(pipeline, name)
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// lastRun keeps the step states of the most recent run.
type lastRun struct {
	mu    sync.Mutex
	state RunState
}

func (l *lastRun) set(s RunState) {
	l.mu.Lock()
	l.state = s.clone()
	l.mu.Unlock()
}

// LastRun returns a copy of the step states of the most recent run.
func (l *lastRun) LastRun() RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return nil
	}
	return l.state.clone()
}

// TransformationPipeline runs transformers one after another.
//
// Behavior:
//   - With pipeline-level cache args, the final output is cached under the
//     pipeline hash and a hit skips every step.
//   - Otherwise the pipeline looks for the last step whose own output is
//     cached (per opts.Steps[name].Cache), loads it and runs only the steps
//     after it. Earlier steps are reported as skipped.
//   - The first failing step aborts the run; later steps are skipped.
type TransformationPipeline struct {
	lastRun

	name  string
	hash  core.BlockHash
	steps []Transformer
	names []string
	rt    Runtime
}

// NewTransformationPipeline creates a sequential pipeline. Step names must be
// unique because they key the nested options.
func NewTransformationPipeline(name string, steps []Transformer, rt Runtime) (*TransformationPipeline, error) {
	names, err := validateSteps(name, steps)
	if err != nil {
		return nil, err
	}
	h, err := blockHash(KindTransformationPipeline, name, nil, childHashes(steps))
	if err != nil {
		return nil, fmt.Errorf("hashing pipeline %q: %w", name, err)
	}
	return &TransformationPipeline{name: name, hash: h, steps: steps, names: names, rt: rt}, nil
}

func (p *TransformationPipeline) Name() string { return p.name }

func (p *TransformationPipeline) Hash() core.BlockHash { return p.hash }

// Steps returns the pipeline steps in order.
func (p *TransformationPipeline) Steps() []Transformer {
	out := make([]Transformer, len(p.steps))
	copy(out, p.steps)
	return out
}

func (p *TransformationPipeline) Transform(ctx context.Context, data any, opts Options) (any, error) {
	state := newRunState(p.names)
	defer func() { p.set(state) }()

	key := p.hash.String()
	hit, ok, err := p.rt.cached(ctx, opts.Cache, key)
	if err != nil {
		p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StageTransform, ReasonError)
		return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	if ok {
		state.skipPending()
		p.rt.record(trace.EventBlockCached, p.name, p.hash, trace.StageTransform, ReasonPipelineCacheHit, key)
		return hit[0], nil
	}

	start, data, err := p.resume(ctx, data, opts, state)
	if err != nil {
		state.skipPending()
		return nil, err
	}

	for _, step := range p.steps[start:] {
		name := step.Name()
		if err := state.transition(name, StepPending, StepRunning); err != nil {
			return nil, err
		}
		out, err := step.Transform(ctx, data, opts.Step(name))
		if err != nil {
			_ = state.transition(name, StepRunning, StepFailed)
			p.skipAfterFailure(state, trace.StageTransform)
			return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		if err := state.transition(name, StepRunning, StepCompleted); err != nil {
			return nil, err
		}
		data = out
	}

	if !opts.Cache.IsZero() {
		if err := p.rt.store(ctx, opts.Cache, key, data); err != nil {
			p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StageTransform, ReasonError)
			return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		p.rt.record(trace.EventBlockStored, p.name, p.hash, trace.StageTransform, "", key)
	}
	return data, nil
}

// resume loads the output of the last cached step and returns the index of
// the first step that still has to run.
func (p *TransformationPipeline) resume(ctx context.Context, data any, opts Options, state RunState) (int, any, error) {
	c := p.rt.cacher()
	last := -1
	for i := len(p.steps) - 1; i >= 0; i-- {
		args := opts.Step(p.steps[i].Name()).Cache
		if args.IsZero() {
			continue
		}
		ok, err := c.Exists(ctx, p.steps[i].Hash().String(), args)
		if err != nil {
			return 0, nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		if ok {
			last = i
			break
		}
	}
	if last < 0 {
		return 0, data, nil
	}

	step := p.steps[last]
	key := step.Hash().String()
	out, err := c.Get(ctx, key, opts.Step(step.Name()).Cache)
	if err != nil {
		return 0, nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	for _, s := range p.steps[:last] {
		if err := state.transition(s.Name(), StepPending, StepSkipped); err != nil {
			return 0, nil, err
		}
		p.rt.record(trace.EventBlockSkipped, s.Name(), s.Hash(), trace.StageTransform, ReasonResumedFromCache)
	}
	if err := state.transition(step.Name(), StepPending, StepCached); err != nil {
		return 0, nil, err
	}
	p.rt.record(trace.EventBlockCached, step.Name(), step.Hash(), trace.StageTransform, ReasonResumedFromCache, key)
	p.rt.logger().LogToTerminal(fmt.Sprintf("Resuming %s after cached step %s", p.name, step.Name()))
	return last + 1, out, nil
}

func (p *TransformationPipeline) skipAfterFailure(state RunState, stage trace.Stage) {
	for _, s := range p.steps {
		if state[s.Name()] == StepPending {
			p.rt.record(trace.EventBlockSkipped, s.Name(), s.Hash(), stage, ReasonUpstreamFailed)
		}
	}
	state.skipPending()
}

// ParallelTransformation runs every step on the same input concurrently and
// joins the outputs column-wise, in step order. Steps must not modify their
// input.
type ParallelTransformation struct {
	lastRun

	name  string
	hash  core.BlockHash
	steps []Transformer
	names []string
	rt    Runtime
}

// NewParallelTransformation creates a parallel pipeline.
func NewParallelTransformation(name string, steps []Transformer, rt Runtime) (*ParallelTransformation, error) {
	names, err := validateSteps(name, steps)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, invalidf("parallel transformation %q has no steps", name)
	}
	h, err := blockHash(KindParallelTransformation, name, nil, childHashes(steps))
	if err != nil {
		return nil, fmt.Errorf("hashing pipeline %q: %w", name, err)
	}
	return &ParallelTransformation{name: name, hash: h, steps: steps, names: names, rt: rt}, nil
}

func (p *ParallelTransformation) Name() string { return p.name }

func (p *ParallelTransformation) Hash() core.BlockHash { return p.hash }

func (p *ParallelTransformation) Transform(ctx context.Context, data any, opts Options) (any, error) {
	state := newRunState(p.names)
	var stateMu sync.Mutex
	defer func() {
		stateMu.Lock()
		p.set(state)
		stateMu.Unlock()
	}()

	key := p.hash.String()
	hit, ok, err := p.rt.cached(ctx, opts.Cache, key)
	if err != nil {
		p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StageTransform, ReasonError)
		return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	if ok {
		state.skipPending()
		p.rt.record(trace.EventBlockCached, p.name, p.hash, trace.StageTransform, ReasonPipelineCacheHit, key)
		return hit[0], nil
	}

	results := make([]any, len(p.steps))
	g, gctx := errgroup.WithContext(ctx)
	for i, step := range p.steps {
		i, step := i, step
		g.Go(func() error {
			name := step.Name()
			stateMu.Lock()
			terr := state.transition(name, StepPending, StepRunning)
			stateMu.Unlock()
			if terr != nil {
				return terr
			}

			out, err := step.Transform(gctx, data, opts.Step(name))

			stateMu.Lock()
			defer stateMu.Unlock()
			if err != nil {
				_ = state.transition(name, StepRunning, StepFailed)
				return err
			}
			results[i] = out
			return state.transition(name, StepRunning, StepCompleted)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}

	out, err := core.ConcatColumns(results)
	if err != nil {
		p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StageTransform, ReasonError)
		return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}

	if !opts.Cache.IsZero() {
		if err := p.rt.store(ctx, opts.Cache, key, out); err != nil {
			p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StageTransform, ReasonError)
			return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		p.rt.record(trace.EventBlockStored, p.name, p.hash, trace.StageTransform, "", key)
	}
	return out, nil
}

// TrainingPipeline runs trainers one after another, threading (x, y) through
// Train and x through Predict.
//
// With pipeline-level cache args the pipeline output is cached like a
// TrainingBlock: hash+"x" and hash+"y" for Train, hash+"p" for Predict.
type TrainingPipeline struct {
	lastRun

	name  string
	hash  core.BlockHash
	steps []Trainer
	names []string
	rt    Runtime
}

// NewTrainingPipeline creates a sequential training pipeline.
func NewTrainingPipeline(name string, steps []Trainer, rt Runtime) (*TrainingPipeline, error) {
	names, err := validateSteps(name, steps)
	if err != nil {
		return nil, err
	}
	h, err := blockHash(KindTrainingPipeline, name, nil, childHashes(steps))
	if err != nil {
		return nil, fmt.Errorf("hashing pipeline %q: %w", name, err)
	}
	return &TrainingPipeline{name: name, hash: h, steps: steps, names: names, rt: rt}, nil
}

func (p *TrainingPipeline) Name() string { return p.name }

// Steps returns the pipeline steps in order.
func (p *TrainingPipeline) Steps() []Trainer {
	out := make([]Trainer, len(p.steps))
	copy(out, p.steps)
	return out
}

func (p *TrainingPipeline) Hash() core.BlockHash { return p.hash }

func (p *TrainingPipeline) Train(ctx context.Context, x, y any, opts Options) (any, any, error) {
	state := newRunState(p.names)
	defer func() { p.set(state) }()

	keyX, keyY := p.hash.String()+suffixX, p.hash.String()+suffixY
	hit, ok, err := p.rt.cached(ctx, opts.Cache, keyX, keyY)
	if err != nil {
		p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StageTrain, ReasonError)
		return nil, nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	if ok {
		state.skipPending()
		p.rt.record(trace.EventBlockCached, p.name, p.hash, trace.StageTrain, ReasonPipelineCacheHit, keyX, keyY)
		return hit[0], hit[1], nil
	}

	for _, step := range p.steps {
		name := step.Name()
		if err := state.transition(name, StepPending, StepRunning); err != nil {
			return nil, nil, err
		}
		outX, outY, err := step.Train(ctx, x, y, opts.Step(name))
		if err != nil {
			_ = state.transition(name, StepRunning, StepFailed)
			p.skipAfterFailure(state, trace.StageTrain)
			return nil, nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		if err := state.transition(name, StepRunning, StepCompleted); err != nil {
			return nil, nil, err
		}
		x, y = outX, outY
	}

	if !opts.Cache.IsZero() {
		if err := p.rt.store(ctx, opts.Cache, keyX, x); err != nil {
			return nil, nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		if err := p.rt.store(ctx, opts.Cache, keyY, y); err != nil {
			return nil, nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		p.rt.record(trace.EventBlockStored, p.name, p.hash, trace.StageTrain, "", keyX, keyY)
	}
	return x, y, nil
}

func (p *TrainingPipeline) Predict(ctx context.Context, x any, opts Options) (any, error) {
	state := newRunState(p.names)
	defer func() { p.set(state) }()

	key := p.hash.String() + suffixPredict
	hit, ok, err := p.rt.cached(ctx, opts.Cache, key)
	if err != nil {
		p.rt.record(trace.EventBlockFailed, p.name, p.hash, trace.StagePredict, ReasonError)
		return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	if ok {
		state.skipPending()
		p.rt.record(trace.EventBlockCached, p.name, p.hash, trace.StagePredict, ReasonPipelineCacheHit, key)
		return hit[0], nil
	}

	for _, step := range p.steps {
		name := step.Name()
		if err := state.transition(name, StepPending, StepRunning); err != nil {
			return nil, err
		}
		out, err := step.Predict(ctx, x, opts.Step(name))
		if err != nil {
			_ = state.transition(name, StepRunning, StepFailed)
			p.skipAfterFailure(state, trace.StagePredict)
			return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		if err := state.transition(name, StepRunning, StepCompleted); err != nil {
			return nil, err
		}
		x = out
	}

	if !opts.Cache.IsZero() {
		if err := p.rt.store(ctx, opts.Cache, key, x); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
		}
		p.rt.record(trace.EventBlockStored, p.name, p.hash, trace.StagePredict, "", key)
	}
	return x, nil
}

func (p *TrainingPipeline) skipAfterFailure(state RunState, stage trace.Stage) {
	for _, s := range p.steps {
		if state[s.Name()] == StepPending {
			p.rt.record(trace.EventBlockSkipped, s.Name(), s.Hash(), stage, ReasonUpstreamFailed)
		}
	}
	state.skipPending()
}

// Option keys of the sub-systems of a ModelPipeline.
const (
	StepX     = "x_sys"
	StepY     = "y_sys"
	StepTrain = "train_sys"
)

// ModelPipeline chains x preprocessing, y preprocessing and training.
//
// Train applies XSys to x and YSys to y, then trains with TrainSys. Predict
// applies XSys, then predicts. A nil sub-system passes its data through
// unchanged. Options for the sub-systems are read from opts.Steps under
// StepX, StepY and StepTrain.
//
// Cached outputs are keyed by block hash, not by input data, so Predict
// options must not reuse the cache args XSys was trained with.
type ModelPipeline struct {
	name string
	hash core.BlockHash
	rt   Runtime

	XSys     Transformer
	YSys     Transformer
	TrainSys Trainer
}

// NewModelPipeline creates a model pipeline. Any sub-system may be nil.
func NewModelPipeline(name string, x, y Transformer, train Trainer, rt Runtime) (*ModelPipeline, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("pipeline name is required")
	}
	children := []core.BlockHash{subHash(x), subHash(y), subHash(train)}
	h, err := blockHash(KindModelPipeline, name, nil, children)
	if err != nil {
		return nil, fmt.Errorf("hashing pipeline %q: %w", name, err)
	}
	return &ModelPipeline{name: name, hash: h, rt: rt, XSys: x, YSys: y, TrainSys: train}, nil
}

func (m *ModelPipeline) Name() string { return m.name }

func (m *ModelPipeline) Hash() core.BlockHash { return m.hash }

func (m *ModelPipeline) Train(ctx context.Context, x, y any, opts Options) (any, any, error) {
	x, y, err := m.train(ctx, x, y, opts)
	if err != nil {
		m.rt.record(trace.EventBlockFailed, m.name, m.hash, trace.StageTrain, ReasonError)
		return nil, nil, fmt.Errorf("pipeline %q: %w", m.name, err)
	}
	m.rt.record(trace.EventBlockExecuted, m.name, m.hash, trace.StageTrain, ReasonComputed)
	return x, y, nil
}

func (m *ModelPipeline) train(ctx context.Context, x, y any, opts Options) (any, any, error) {
	var err error
	if m.XSys != nil {
		m.rt.logger().LogToDebug(fmt.Sprintf("%s: transforming x", m.name))
		if x, err = m.XSys.Transform(ctx, x, opts.Step(StepX)); err != nil {
			return nil, nil, err
		}
	}
	if m.YSys != nil {
		m.rt.logger().LogToDebug(fmt.Sprintf("%s: transforming y", m.name))
		if y, err = m.YSys.Transform(ctx, y, opts.Step(StepY)); err != nil {
			return nil, nil, err
		}
	}
	if m.TrainSys == nil {
		return x, y, nil
	}
	return m.TrainSys.Train(ctx, x, y, opts.Step(StepTrain))
}

func (m *ModelPipeline) Predict(ctx context.Context, x any, opts Options) (any, error) {
	out, err := m.predict(ctx, x, opts)
	if err != nil {
		m.rt.record(trace.EventBlockFailed, m.name, m.hash, trace.StagePredict, ReasonError)
		return nil, fmt.Errorf("pipeline %q: %w", m.name, err)
	}
	m.rt.record(trace.EventBlockExecuted, m.name, m.hash, trace.StagePredict, ReasonComputed)
	return out, nil
}

func (m *ModelPipeline) predict(ctx context.Context, x any, opts Options) (any, error) {
	var err error
	if m.XSys != nil {
		if x, err = m.XSys.Transform(ctx, x, opts.Step(StepX)); err != nil {
			return nil, err
		}
	}
	if m.TrainSys == nil {
		return x, nil
	}
	return m.TrainSys.Predict(ctx, x, opts.Step(StepTrain))
}

func childHashes[T interface{ Hash() core.BlockHash }](steps []T) []core.BlockHash {
	out := make([]core.BlockHash, len(steps))
	for i, s := range steps {
		out[i] = s.Hash()
	}
	return out
}

func subHash[T interface{ Hash() core.BlockHash }](s T) core.BlockHash {
	if any(s) == nil {
		return ""
	}
	return s.Hash()
}
