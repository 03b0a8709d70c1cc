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

// Problem is the value stored for each divide-and-conquer node: the
// (sub)problem's input paired with its result. A slot holds the
// input with an unset result until a solve, a sequential fallback, or
// a merge stores the result back into the same slot.
type Problem struct {
	Input  interface{}
	Result interface{}
}

// DivideConquer evaluates a divide-and-conquer problem over the
// scheduler. The predicate wins over divide: a problem satisfying it
// is solved directly. Divides must produce at least two subproblems;
// fewer is an error of kind errors.Misshapen. When the token pool
// cannot admit a divide's fan-out, the subtree is evaluated by the
// sequential policy with the same callables; results are identical
// for associative combiners regardless of which subtrees fell back.
func (e *Exec) DivideConquer(ctx context.Context, input interface{}, divide pattern.Divide, pred pattern.Predicate, solve pattern.Solve, combine pattern.Combine) (interface{}, error) {
	s := e.sched
	seqx := seq.Exec{}

	var divideID, mergeID, endID taskdist.StageID

	// The divide stage. Base cases are solved in place; divisible
	// problems either fan out into child divide tasks joined by a
	// merger, or, when tokens are exhausted, fall back to the
	// sequential policy. The merger adopts this task's id and
	// after-deps, so the parent's dependency on this id is discharged
	// only when the whole subtree has merged.
	divideFn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.Get(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		pr := v.(Problem)
		if pred(pr.Input) {
			pr.Result = solve(pr.Input)
			if err = s.Assign(ctx, t.Refs[0], pr); err != nil {
				return err
			}
			return s.Finish(t, 1)
		}
		subs := divide(pr.Input)
		if len(subs) < 2 {
			return errors.E("divide", t.ID, errors.Misshapen,
				errors.Errorf("%d subproblems for a non-base case", len(subs)))
		}
		if !s.AllocateTokens(len(subs)) {
			e.log.Debugf("divide %v: %d tokens unavailable, solving sequentially", t.ID, len(subs))
			result, err := seqx.DivideConquer(pr.Input, divide, pred, solve, combine)
			if err != nil {
				return err
			}
			pr.Result = result
			if err = s.Assign(ctx, t.Refs[0], pr); err != nil {
				return err
			}
			return s.Finish(t, 1)
		}
		merger := &taskdist.Task{
			Stage:     mergeID,
			ID:        t.ID,
			Order:     t.Order,
			Locality:  t.Locality,
			Hard:      t.Hard,
			Refs:      append([]taskdist.Ref{}, t.Refs...),
			BeforeDep: taskdist.NewTaskSet(),
			AfterDep:  t.AfterDep.Copy(),
		}
		for _, sub := range subs {
			ref, err := s.Set(ctx, Problem{Input: sub})
			if err != nil {
				return err
			}
			child := &taskdist.Task{
				Stage:    divideID,
				ID:       s.NextTaskID(),
				Order:    t.Order,
				Locality: []taskdist.NodeID{s.NodeID()},
				Refs:     []taskdist.Ref{ref},
				AfterDep: taskdist.NewTaskSet(merger.ID),
			}
			merger.BeforeDep.Add(child.ID)
			merger.Refs = append(merger.Refs, ref)
			if err = s.Submit(child, false); err != nil {
				return err
			}
		}
		if err = s.Submit(merger, false); err != nil {
			return err
		}
		return s.Finish(t, 1)
	}

	// The merge stage combines children results into the parent's
	// slot. Children slots are released as they are read; the
	// parent's slot survives for the enclosing merger or the end
	// task.
	mergeFn := func(ctx context.Context, t *taskdist.Task) error {
		v, err := s.Get(ctx, t.Refs[0])
		if err != nil {
			return err
		}
		pr := v.(Problem)
		acc := pr.Result
		for _, ref := range t.Refs[1:] {
			cv, err := s.GetRelease(ctx, ref)
			if err != nil {
				return err
			}
			child := cv.(Problem)
			if acc == nil {
				acc = child.Result
			} else {
				acc = combine(acc, child.Result)
			}
		}
		pr.Result = acc
		if err = s.Assign(ctx, t.Refs[0], pr); err != nil {
			return err
		}
		return s.Finish(t, 1)
	}

	// The initial stage seeds the problem, creates the end task, and
	// then divides inline on its own task.
	initFn := func(ctx context.Context, t *taskdist.Task) error {
		ref, err := s.Set(ctx, Problem{Input: input})
		if err != nil {
			return err
		}
		t.Refs = []taskdist.Ref{ref}
		t.Locality = []taskdist.NodeID{s.NodeID()}
		t.Hard = false
		end := &taskdist.Task{
			Stage:     endID,
			ID:        s.NextTaskID(),
			Order:     t.Order,
			Locality:  []taskdist.NodeID{s.NodeID()},
			Refs:      []taskdist.Ref{ref},
			BeforeDep: taskdist.NewTaskSet(t.ID),
		}
		t.AfterDep = taskdist.NewTaskSet(end.ID)
		if err = s.Submit(end, true); err != nil {
			return err
		}
		return divideFn(ctx, t)
	}

	// The end stage wraps up the run. The result slot is left for
	// the caller, which collects it with GetReleaseAll; that release
	// also repays whatever admission credit the initial store drew,
	// rather than a fixed count.
	endFn := func(ctx context.Context, t *taskdist.Task) error {
		return s.Finish(t, 1)
	}

	s.RegisterParallel(initFn, true)
	divideID = s.RegisterParallel(divideFn, true)
	mergeID = s.RegisterParallel(mergeFn, false)
	endID = s.RegisterParallel(endFn, false)

	terminal, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}
	v, err := s.GetReleaseAll(ctx, terminal.Refs[0])
	if err != nil {
		return nil, err
	}
	return v.(Problem).Result, nil
}
