package pipeline

import "epochalyst/internal/core"

// Options are the per-call arguments of a block or pipeline.
//
// Cache enables caching of this block's output; nil disables it. Args are
// forwarded to the custom implementation. Steps holds the options of nested
// blocks keyed by block name and is only consulted by pipelines.
type Options struct {
	Cache *core.CacheArgs    `json:"cache,omitempty" yaml:"cache,omitempty"`
	Args  map[string]any     `json:"args,omitempty" yaml:"args,omitempty"`
	Steps map[string]Options `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Step returns the options for the named nested block, or zero options.
func (o Options) Step(name string) Options {
	if o.Steps == nil {
		return Options{}
	}
	return o.Steps[name]
}
