// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package taskdist

import "context"

// StageFunc is a registered stage function. The scheduler invokes it
// with the task being executed; the function runs to completion on
// one worker and must not retain the task after returning. Functions
// registered as parallel must be safe for concurrent invocation.
// A returned error terminates the run.
type StageFunc func(ctx context.Context, task *Task) error

// Scheduler is the contract between the pattern translators and a
// scheduler backend. A backend owns the worker pool, the run queue,
// the token pool, and the slot store; the translators only register
// stage functions, submit tasks, and move values through references.
//
// Stage functions may block in Set and AllocateTokens; all other
// operations are non-blocking. Registered stage functions must not
// outlive the Run call that consumes them.
type Scheduler interface {
	// RegisterSequential registers fn as a sequential stage: the
	// backend invokes at most one task of the stage at a time on a
	// node. Source marks stages that introduce new work into the
	// graph; the first registered source stage is seeded with one
	// task when Run starts.
	RegisterSequential(fn StageFunc, source bool) StageID

	// RegisterParallel registers fn as a parallel stage: tasks of the
	// stage may be invoked concurrently.
	RegisterParallel(fn StageFunc, source bool) StageID

	// Submit enqueues a task for execution. A task with unmet
	// BeforeDep waits until those ids complete. Self marks a
	// generator's continuation task, which carries no item; backends
	// may use it to drain in-flight items ahead of new work. Tasks
	// that carry an item, an iteration's self-loop included, are
	// submitted with self false.
	Submit(task *Task, self bool) error

	// Run executes the graph until it drains, returning the terminal
	// task (the last to finish). Registered stages are consumed by
	// the run.
	Run(ctx context.Context) (*Task, error)

	// Set stores a value into a fresh slot, consuming one admission
	// token, and returns its reference. Set blocks until a token is
	// available unless a prior AllocateTokens reserved one.
	Set(ctx context.Context, v interface{}) (Ref, error)

	// Assign replaces the value named by an existing, unreleased
	// reference. No token changes hands.
	Assign(ctx context.Context, ref Ref, v interface{}) error

	// Get returns the value named by ref without releasing it.
	Get(ctx context.Context, ref Ref) (interface{}, error)

	// GetRelease returns the value named by ref, frees its slot, and
	// returns its token to the pool.
	GetRelease(ctx context.Context, ref Ref) (interface{}, error)

	// GetReleaseAll returns the value named by ref and releases all
	// residual tokens held by the current run's chain, restoring the
	// pool to its initial level. It is called by the driver after Run
	// returns to collect a final result.
	GetReleaseAll(ctx context.Context, ref Ref) (interface{}, error)

	// Finish retires a task: any still-held references in
	// task.Refs[keep:] are freed, and if no live task carries the
	// task's id afterwards, the id completes and the tasks whose
	// BeforeDep names it are unblocked. References already freed by GetRelease
	// are skipped, so no token is ever released twice.
	Finish(task *Task, keep int) error

	// AllocateTokens atomically reserves n admission tokens. On
	// success the next n Set calls on this node will not block. On
	// failure no tokens are reserved.
	AllocateTokens(n int) bool

	// NextTaskID issues a fresh task id.
	NextTaskID() TaskID

	// NodeID returns the node on which the caller is running.
	NodeID() NodeID
}
