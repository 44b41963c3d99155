// Package pipeline composes cached blocks into transformation, training and
// model pipelines.
//
// A block is a user implementation (CustomTransformer or CustomTrainer)
// wrapped with a deterministic identity hash. When a block runs with cache
// arguments, its output is stored under that hash and reused by the next run
// with the same block and arguments.
//
// Pipelines derive their hash from their children, in order. A sequential
// transformation pipeline resumes after the last step whose output is
// already cached.
package pipeline
