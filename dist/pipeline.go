// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dist

import (
	"context"

	"github.com/grailbio/taskdist"
	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/pattern"
	"github.com/grailbio/taskdist/seq"
)

// Pipeline translates the composition (generator, stages...) into a
// chain of registered stage functions and runs the resulting graph.
// The final stage must be a consumer (or a farm over one).
// Translation errors are returned before any stage is registered or
// any task submitted.
func (e *Exec) Pipeline(ctx context.Context, gen pattern.Generator, stages ...interface{}) error {
	var regs []func()
	if err := e.plan(&regs, false, stages); err != nil {
		return err
	}
	e.registerGenerator(gen)
	for _, reg := range regs {
		reg()
	}
	_, err := e.sched.Run(ctx)
	return err
}

// plan walks the stage chain left to right, appending one
// registration per position. Nothing is registered until the whole
// chain has been accepted. isFarm is true only for the direct child
// of a farm; the tail of a farm reverts to the enclosing policy.
func (e *Exec) plan(regs *[]func(), isFarm bool, chain []interface{}) error {
	if len(chain) == 0 {
		return errors.E("pipeline", errors.Translation, errors.New("pipeline has no consumer"))
	}
	head, tail := chain[0], chain[1:]
	switch p := head.(type) {
	case pattern.Pipe:
		// A nested pipeline is spliced into the outer chain by
		// concatenation before classification.
		return e.plan(regs, isFarm, append(append([]interface{}{}, p.Transformers()...), tail...))
	case pattern.Farm:
		if len(tail) == 0 {
			consume, ok := asConsume(p.Transformer())
			if !ok {
				return errors.E("pipeline", errors.Translation, errors.New("terminal farm requires a consumer"))
			}
			*regs = append(*regs, func() { e.registerConsumer(true, consume) })
			return nil
		}
		f, ok := asTransform(p.Transformer())
		if !ok {
			return errors.E("pipeline", errors.Translation,
				errors.Errorf("farm over %T is not supported", p.Transformer()))
		}
		*regs = append(*regs, func() { e.registerTransform(true, f) })
		return e.plan(regs, isFarm, tail)
	case pattern.Filter:
		if len(tail) == 0 {
			return errors.E("pipeline", errors.Translation, errors.New("filter cannot terminate a pipeline"))
		}
		pred := p.Predicate()
		farm := isFarm
		*regs = append(*regs, func() { e.registerFilter(farm, pred) })
		return e.plan(regs, isFarm, tail)
	case *pattern.Reduce:
		if len(tail) == 0 {
			return errors.E("pipeline", errors.Translation, errors.New("reduce cannot terminate a pipeline"))
		}
		red := p
		*regs = append(*regs, func() { e.registerReduce(red) })
		return e.plan(regs, isFarm, tail)
	case pattern.Iteration:
		if _, ok := p.Transformer().(pattern.Pipe); ok {
			return errors.E("pipeline", errors.Translation,
				errors.New("iteration of a nested pipeline is not supported"))
		}
		f, ok := asTransform(p.Transformer())
		if !ok {
			return errors.E("pipeline", errors.Translation,
				errors.Errorf("iteration over %T is not supported", p.Transformer()))
		}
		if len(tail) == 0 {
			return errors.E("pipeline", errors.Translation, errors.New("iteration cannot terminate a pipeline"))
		}
		pred := p.Predicate()
		farm := isFarm
		*regs = append(*regs, func() { e.registerIteration(farm, f, pred) })
		return e.plan(regs, isFarm, tail)
	default:
		if f, ok := asTransform(head); ok {
			if len(tail) == 0 {
				return errors.E("pipeline", errors.Translation, errors.New("pipeline must end in a consumer"))
			}
			farm := isFarm
			*regs = append(*regs, func() { e.registerTransform(farm, f) })
			return e.plan(regs, isFarm, tail)
		}
		if consume, ok := asConsume(head); ok {
			if len(tail) > 0 {
				return errors.E("pipeline", errors.Translation, errors.New("consumer must terminate the pipeline"))
			}
			farm := isFarm
			*regs = append(*regs, func() { e.registerConsumer(farm, consume) })
			return nil
		}
		if _, err := pattern.Classify(head); err != nil {
			return err
		}
		return errors.E("pipeline", errors.Translation, errors.Errorf("unsupported stage %T", head))
	}
}

func asTransform(v interface{}) (pattern.Transform, bool) {
	switch f := v.(type) {
	case pattern.Transform:
		return f, true
	case func(interface{}) interface{}:
		return f, true
	}
	return nil, false
}

func asConsume(v interface{}) (pattern.Consume, bool) {
	switch f := v.(type) {
	case pattern.Consume:
		return f, true
	case func(interface{}):
		return f, true
	}
	return nil, false
}

// registerGenerator registers the pipeline's source stage. Each
// invocation draws one item from the generator, stores it with its
// order index, submits the successor task, and re-submits itself
// with the next order; when the generator is exhausted, the stage
// finishes without a continuation.
func (e *Exec) registerGenerator(gen pattern.Generator) {
	s := e.sched
	var order int64
	fn := func(ctx context.Context, t *taskdist.Task) error {
		v, ok := gen()
		if !ok {
			return s.Finish(t, 0)
		}
		ref, err := s.Set(ctx, taskdist.Item{Value: v, Order: order})
		if err != nil {
			return err
		}
		next := &taskdist.Task{
			Stage:    t.Stage + 1,
			ID:       s.NextTaskID(),
			Order:    order,
			Locality: []taskdist.NodeID{s.NodeID()},
			Refs:     []taskdist.Ref{ref},
		}
		if err = s.Submit(next, false); err != nil {
			return err
		}
		order++
		cont := &taskdist.Task{
			Stage:    t.Stage,
			ID:       s.NextTaskID(),
			Order:    order,
			Locality: []taskdist.NodeID{s.NodeID()},
		}
		return s.Submit(cont, true)
	}
	s.RegisterSequential(fn, true)
}

func (e *Exec) registerTransform(isFarm bool, f pattern.Transform) {
	s := e.sched
	fn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.GetRelease(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		item := v.(taskdist.Item)
		out := f(item.Value)
		ref, err := s.Set(ctx, taskdist.Item{Value: out, Order: item.Order})
		if err != nil {
			return err
		}
		next := &taskdist.Task{
			Stage:    t.Stage + 1,
			ID:       s.NextTaskID(),
			Order:    t.Order,
			Locality: []taskdist.NodeID{s.NodeID()},
			Refs:     []taskdist.Ref{ref},
		}
		return s.Submit(next, false)
	}
	if isFarm {
		s.RegisterParallel(fn, false)
	} else {
		s.RegisterSequential(fn, false)
	}
}

func (e *Exec) registerConsumer(isFarm bool, f pattern.Consume) {
	s := e.sched
	fn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.GetRelease(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		f(v.(taskdist.Item).Value)
		return s.Finish(t, 0)
	}
	if isFarm {
		s.RegisterParallel(fn, false)
	} else {
		s.RegisterSequential(fn, false)
	}
}

func (e *Exec) registerFilter(isFarm bool, pred pattern.Predicate) {
	s := e.sched
	fn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.GetRelease(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		item := v.(taskdist.Item)
		if !pred(item.Value) {
			// The item is dropped; its token was returned by the
			// release above.
			return s.Finish(t, 0)
		}
		ref, err := s.Set(ctx, item)
		if err != nil {
			return err
		}
		next := &taskdist.Task{
			Stage:    t.Stage + 1,
			ID:       s.NextTaskID(),
			Order:    t.Order,
			Locality: []taskdist.NodeID{s.NodeID()},
			Refs:     []taskdist.Ref{ref},
		}
		return s.Submit(next, false)
	}
	if isFarm {
		s.RegisterParallel(fn, false)
	} else {
		s.RegisterSequential(fn, false)
	}
}

// registerReduce registers a window reducer. Reducers are always
// sequential, so the window and the local order counter need no
// locking.
func (e *Exec) registerReduce(red *pattern.Reduce) {
	s := e.sched
	var localOrder int64
	fn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.GetRelease(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		red.AddItem(v.(taskdist.Item).Value)
		if !red.ReductionNeeded() {
			return s.Finish(t, 0)
		}
		out := red.ReduceWindow(seq.Exec{})
		ref, err := s.Set(ctx, taskdist.Item{Value: out, Order: localOrder})
		if err != nil {
			return err
		}
		next := &taskdist.Task{
			Stage:    t.Stage + 1,
			ID:       s.NextTaskID(),
			Order:    localOrder,
			Locality: []taskdist.NodeID{s.NodeID()},
			Refs:     []taskdist.Ref{ref},
		}
		localOrder++
		return s.Submit(next, false)
	}
	s.RegisterSequential(fn, false)
}

// registerIteration registers an iteration stage. Each invocation
// applies the transformer once; if the predicate holds, the item is
// emitted downstream, otherwise the same task is re-submitted with
// the new value so other tasks may interleave. The value is
// re-stored on both paths.
func (e *Exec) registerIteration(isFarm bool, f pattern.Transform, pred pattern.Predicate) {
	s := e.sched
	fn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.GetRelease(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		item := v.(taskdist.Item)
		out := taskdist.Item{Value: f(item.Value), Order: item.Order}
		ref, err := s.Set(ctx, out)
		if err != nil {
			return err
		}
		if pred(out.Value) {
			next := &taskdist.Task{
				Stage:    t.Stage + 1,
				ID:       s.NextTaskID(),
				Order:    t.Order,
				Locality: []taskdist.NodeID{s.NodeID()},
				Refs:     []taskdist.Ref{ref},
			}
			return s.Submit(next, false)
		}
		t.Refs = []taskdist.Ref{ref}
		return s.Submit(t, false)
	}
	if isFarm {
		s.RegisterParallel(fn, false)
	} else {
		s.RegisterSequential(fn, false)
	}
}
