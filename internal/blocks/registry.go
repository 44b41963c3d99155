// Package blocks holds the built-in block implementations and the registry
// that builds them by name from configuration parameters.
package blocks

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"epochalyst/internal/pipeline"
)

var (
	ErrUnknownBlock   = errors.New("unknown block")
	ErrDuplicateBlock = errors.New("block already registered")
	ErrInvalidParams  = errors.New("invalid block params")
)

// PathResolver is implemented by blocks whose params name files. The CLI
// calls ResolvePaths with the workspace directory after construction.
type PathResolver interface {
	ResolvePaths(baseDir string)
}

// TransformationFactory builds a transformation implementation from params.
type TransformationFactory func(p Params) (pipeline.CustomTransformer, error)

// TrainingFactory builds a training implementation from params.
type TrainingFactory func(p Params) (pipeline.CustomTrainer, error)

// Registry maps block names to factories. It is safe for concurrent use.
type Registry struct {
	mu              sync.RWMutex
	transformations map[string]TransformationFactory
	training        map[string]TrainingFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transformations: map[string]TransformationFactory{},
		training:        map[string]TrainingFactory{},
	}
}

// Builtin returns a registry holding every built-in block.
func Builtin() *Registry {
	r := NewRegistry()
	for name, f := range map[string]TransformationFactory{
		"log1p":      newLog1p,
		"clip":       newClip,
		"fill_nan":   newFillNaN,
		"select":     newSelect,
		"cache_full": newCacheFull,
	} {
		_ = r.RegisterTransformation(name, f)
	}
	for name, f := range map[string]TrainingFactory{
		"standardize":       newStandardize,
		"mean_baseline":     newMeanBaseline,
		"linear_regression": newLinearRegression,
	} {
		_ = r.RegisterTraining(name, f)
	}
	return r
}

// RegisterTransformation adds a transformation factory under name.
func (r *Registry) RegisterTransformation(name string, f TransformationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transformations[name]; ok {
		return fmt.Errorf("%w: transformation %q", ErrDuplicateBlock, name)
	}
	r.transformations[name] = f
	return nil
}

// RegisterTraining adds a training factory under name.
func (r *Registry) RegisterTraining(name string, f TrainingFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.training[name]; ok {
		return fmt.Errorf("%w: training %q", ErrDuplicateBlock, name)
	}
	r.training[name] = f
	return nil
}

// Transformation builds the named transformation.
func (r *Registry) Transformation(name string, params map[string]any) (pipeline.CustomTransformer, error) {
	r.mu.RLock()
	f, ok := r.transformations[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transformation %q", ErrUnknownBlock, name)
	}
	impl, err := f(Params(params))
	if err != nil {
		return nil, fmt.Errorf("block %q: %w", name, err)
	}
	return impl, nil
}

// Training builds the named trainer.
func (r *Registry) Training(name string, params map[string]any) (pipeline.CustomTrainer, error) {
	r.mu.RLock()
	f, ok := r.training[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: training %q", ErrUnknownBlock, name)
	}
	impl, err := f(Params(params))
	if err != nil {
		return nil, fmt.Errorf("block %q: %w", name, err)
	}
	return impl, nil
}

// Names returns the sorted names of all registered transformations and
// trainers.
func (r *Registry) Names() (transformations, training []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.transformations {
		transformations = append(transformations, n)
	}
	for n := range r.training {
		training = append(training, n)
	}
	sort.Strings(transformations)
	sort.Strings(training)
	return transformations, training
}
