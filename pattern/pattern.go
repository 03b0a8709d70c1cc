// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pattern defines the user-visible composition vocabulary of
// the engine: plain callables, farms, filters, window reducers,
// iterations, and nested pipelines. Pattern values are tagged records
// with accessors; the translator in package dist classifies them
// structurally and never inspects user callables beyond their
// signatures.
package pattern

import (
	"github.com/grailbio/taskdist/errors"
)

// Transform is a plain transformer callable.
type Transform func(v interface{}) interface{}

// Consume is a terminal consumer callable.
type Consume func(v interface{})

// Predicate reports a boolean property of a value.
type Predicate func(v interface{}) bool

// Generator produces the items of a pipeline. It returns the next
// item and true, or a zero value and false once the stream is
// exhausted.
type Generator func() (interface{}, bool)

// Combine merges two values into one. Reducers and divide-and-conquer
// combiners use it; associativity is assumed wherever partial results
// are folded in parallel.
type Combine func(a, b interface{}) interface{}

// Divide splits a problem into subproblems for divide-and-conquer. A
// non-base-case split must produce at least two subproblems.
type Divide func(v interface{}) []interface{}

// Solve computes the result of a base-case problem.
type Solve func(v interface{}) interface{}

// Class enumerates the structural classes a chain position may
// resolve to.
type Class int

const (
	// Callable is a plain callable (transformer or consumer).
	Callable Class = 1 + iota
	// FarmClass is a parallel replication of a single stage.
	FarmClass
	// FilterClass drops items failing a predicate.
	FilterClass
	// ReduceClass is a sequential windowed aggregation.
	ReduceClass
	// IterationClass re-submits a stage until a predicate holds.
	IterationClass
	// PipeClass is a nested pipeline, spliced into its outer chain.
	PipeClass

	maxClass
)

var classStrings = [maxClass]string{
	0:              "BROKEN",
	Callable:       "callable",
	FarmClass:      "farm",
	FilterClass:    "filter",
	ReduceClass:    "reduce",
	IterationClass: "iteration",
	PipeClass:      "pipeline",
}

func (c Class) String() string {
	return classStrings[c]
}

// Classify resolves the structural class of a chain position. The
// classification is exhaustive: a value that is neither a pattern
// value nor a recognized callable signature is an error of kind
// errors.Translation.
func Classify(v interface{}) (Class, error) {
	switch v.(type) {
	case Transform, func(interface{}) interface{}, Consume, func(interface{}):
		return Callable, nil
	case Farm:
		return FarmClass, nil
	case Filter:
		return FilterClass, nil
	case *Reduce:
		return ReduceClass, nil
	case Iteration:
		return IterationClass, nil
	case Pipe:
		return PipeClass, nil
	default:
		return 0, errors.E("classify", errors.Translation, errors.Errorf("unrecognized stage %T", v))
	}
}

// Farm replicates a single inner stage across workers. The inner
// stage may be a transformer or, for a terminal farm, a consumer;
// per-item order metadata is preserved.
type Farm struct {
	inner interface{}
}

// NewFarm returns a farm over the provided callable.
func NewFarm(inner interface{}) Farm {
	return Farm{inner: inner}
}

// Transformer returns the farm's inner callable.
func (f Farm) Transformer() interface{} { return f.inner }

// Filter drops items for which the predicate is false. A dropped
// item's slot is released, so filtering returns tokens to the pool.
type Filter struct {
	pred Predicate
}

// NewFilter returns a filter with the provided predicate.
func NewFilter(pred Predicate) Filter {
	return Filter{pred: pred}
}

// Predicate returns the filter's predicate.
func (f Filter) Predicate() Predicate { return f.pred }

// Reduce is a sequential count-window aggregation: items accumulate
// into a window of the configured size, and each full window is
// folded into a single output value. A reducer is single-threaded by
// construction (it is always registered as a sequential stage), so
// its window needs no locking.
type Reduce struct {
	window   int
	identity interface{}
	combine  Combine

	buf []interface{}
}

// NewReduce returns a reducer producing one output per window items,
// folding each window with combine starting from identity.
func NewReduce(window int, identity interface{}, combine Combine) *Reduce {
	if window < 1 {
		window = 1
	}
	return &Reduce{window: window, identity: identity, combine: combine}
}

// AddItem appends v to the current window.
func (r *Reduce) AddItem(v interface{}) {
	r.buf = append(r.buf, v)
}

// ReductionNeeded tells whether the current window is full.
func (r *Reduce) ReductionNeeded() bool {
	return len(r.buf) >= r.window
}

// A SequentialReducer folds a window of values into one. The
// sequential execution policy (package seq) implements it.
type SequentialReducer interface {
	Reduce(window []interface{}, identity interface{}, combine Combine) interface{}
}

// ReduceWindow folds the current window with the provided sequential
// policy and resets it.
func (r *Reduce) ReduceWindow(ex SequentialReducer) interface{} {
	out := ex.Reduce(r.buf, r.identity, r.combine)
	r.buf = r.buf[:0]
	return out
}

// Iteration applies its transformer to an item repeatedly, one task
// submission per application, until the predicate holds; only then is
// the item emitted downstream.
type Iteration struct {
	transform interface{}
	pred      Predicate
}

// NewIteration returns an iteration of the provided transformer and
// termination predicate.
func NewIteration(transform interface{}, pred Predicate) Iteration {
	return Iteration{transform: transform, pred: pred}
}

// Transformer returns the iteration's transformer. It may itself be
// a pattern value; the translator rejects compositions it does not
// support.
func (it Iteration) Transformer() interface{} { return it.transform }

// Predicate returns the iteration's termination predicate.
func (it Iteration) Predicate() Predicate { return it.pred }

// Pipe is a nested pipeline. Its transformers are spliced into the
// enclosing chain by concatenation before classification.
type Pipe struct {
	stages []interface{}
}

// NewPipe returns a nested pipeline over the provided stages.
func NewPipe(stages ...interface{}) Pipe {
	return Pipe{stages: stages}
}

// Transformers returns the nested pipeline's stages.
func (p Pipe) Transformers() []interface{} { return p.stages }
