// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sched implements an in-process scheduler backend for the
// engine. The scheduler owns a pool of workers, a registry of stage
// functions, and a run queue gated by task dependencies; its data
// plane (slots and admission tokens) is delegated to a
// taskdist.Store, so the same scheduler runs against the in-memory
// store or a file-backed one.
//
// A run drains when no task is queued, blocked, or running. Blocked
// tasks remaining at that point indicate a dependency cycle or a
// missing producer and fail the run. Task completions are remembered
// for the duration of the run, so a dependency that finishes before
// its waiter is submitted is still honored; this is what permits a
// divide stage to submit its children before their merger.
package sched

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/taskdist"
	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type stage struct {
	fn       taskdist.StageFunc
	parallel bool
	source   bool
	// busy marks a sequential stage with a task in flight; the
	// dispatcher skips its queued tasks until the running one
	// returns.
	busy bool
}

// A waiter is a submitted task whose BeforeDep has not yet completed.
type waiter struct {
	task    *taskdist.Task
	waiting taskdist.TaskSet
}

// Scheduler is an in-process, multi-worker scheduler backend
// implementing taskdist.Scheduler. Exported fields must be set
// before the first call to Run and not changed thereafter.
type Scheduler struct {
	// Store provides slots and admission tokens.
	Store taskdist.Store
	// Log receives scheduler status and debug output.
	Log *log.Logger
	// Workers is the number of worker goroutines per run. If zero,
	// the number of CPUs is used. At least two workers are needed to
	// make progress when a producing stage blocks on the token pool.
	Workers int

	mu   sync.Mutex
	cond *ctxsync.Cond

	stages    []*stage
	queue     []*taskdist.Task
	blocked   map[taskdist.TaskID]*waiter
	completed map[taskdist.TaskID]bool
	live      map[taskdist.TaskID]int
	running   int
	done      bool
	terminal  *taskdist.Task

	nextID int64

	status *rate.Limiter
}

var _ taskdist.Scheduler = (*Scheduler)(nil)

// New returns a scheduler backed by the provided store.
func New(store taskdist.Store) *Scheduler {
	s := &Scheduler{
		Store:  store,
		status: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	s.cond = ctxsync.NewCond(&s.mu)
	s.resetLocked()
	return s
}

func (s *Scheduler) resetLocked() {
	s.stages = nil
	s.queue = nil
	s.blocked = map[taskdist.TaskID]*waiter{}
	s.completed = map[taskdist.TaskID]bool{}
	s.live = map[taskdist.TaskID]int{}
	s.running = 0
	s.done = false
	s.terminal = nil
}

// RegisterSequential registers fn as a sequential stage.
func (s *Scheduler) RegisterSequential(fn taskdist.StageFunc, source bool) taskdist.StageID {
	return s.register(fn, false, source)
}

// RegisterParallel registers fn as a parallel stage.
func (s *Scheduler) RegisterParallel(fn taskdist.StageFunc, source bool) taskdist.StageID {
	return s.register(fn, true, source)
}

func (s *Scheduler) register(fn taskdist.StageFunc, parallel, source bool) taskdist.StageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, &stage{fn: fn, parallel: parallel, source: source})
	return taskdist.StageID(len(s.stages) - 1)
}

// Submit enqueues a task. Tasks with unmet dependencies wait;
// self-submitted tasks join the tail of the queue while data tasks
// join the head, so in-flight items drain ahead of newly generated
// work.
func (s *Scheduler) Submit(task *taskdist.Task, self bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(task.Stage) < 0 || int(task.Stage) >= len(s.stages) {
		return errors.E("submit", errors.Invalid, errors.Errorf("no such stage %d", task.Stage))
	}
	s.live[task.ID]++
	if len(task.BeforeDep) > 0 {
		waiting := make(taskdist.TaskSet)
		for id := range task.BeforeDep {
			if !s.completed[id] {
				waiting.Add(id)
			}
		}
		if len(waiting) > 0 {
			s.blocked[task.ID] = &waiter{task: task, waiting: waiting}
			return nil
		}
	}
	s.enqueueLocked(task, self)
	s.cond.Broadcast()
	return nil
}

func (s *Scheduler) enqueueLocked(task *taskdist.Task, tail bool) {
	if tail {
		s.queue = append(s.queue, task)
	} else {
		s.queue = append([]*taskdist.Task{task}, s.queue...)
	}
}

// Run seeds the first registered source stage and executes the graph
// until it drains, returning the terminal task. The registered
// stages are consumed by the run.
func (s *Scheduler) Run(ctx context.Context) (*taskdist.Task, error) {
	s.mu.Lock()
	seeded := false
	for id, st := range s.stages {
		if !st.source {
			continue
		}
		seed := &taskdist.Task{
			Stage:    taskdist.StageID(id),
			ID:       s.NextTaskID(),
			Locality: []taskdist.NodeID{s.Store.Node()},
		}
		s.live[seed.ID]++
		s.enqueueLocked(seed, true)
		seeded = true
		break
	}
	if !seeded {
		s.resetLocked()
		s.mu.Unlock()
		return nil, errors.E("run", errors.Invalid, errors.New("no source stage registered"))
	}
	s.mu.Unlock()

	workers := s.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return s.work(gctx) })
	}
	err := g.Wait()
	s.mu.Lock()
	terminal := s.terminal
	s.resetLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if terminal == nil {
		return nil, errors.E("run", errors.Invalid, errors.New("graph drained without a finished task"))
	}
	return terminal, nil
}

func (s *Scheduler) work(ctx context.Context) error {
	for {
		task, st, err := s.next(ctx)
		if task == nil || err != nil {
			return err
		}
		err = s.execute(ctx, st, task)
		s.mu.Lock()
		s.running--
		st.busy = false
		s.cond.Broadcast()
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// next returns the next runnable task, blocking until one is
// available. It returns a nil task when the graph has drained.
func (s *Scheduler) next(ctx context.Context) (*taskdist.Task, *stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.done {
			return nil, nil, nil
		}
		for i, task := range s.queue {
			st := s.stages[task.Stage]
			if !st.parallel && st.busy {
				continue
			}
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			if !st.parallel {
				st.busy = true
			}
			s.running++
			return task, st, nil
		}
		if s.running == 0 {
			if len(s.blocked) > 0 {
				return nil, nil, errors.E("run", errors.Fatal,
					errors.Errorf("%d tasks blocked with no runnable producer", len(s.blocked)))
			}
			s.done = true
			s.cond.Broadcast()
			return nil, nil, nil
		}
		if err := s.cond.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, st *stage, task *taskdist.Task) (err error) {
	if s.Log.At(log.DebugLevel) && s.status.Allow() {
		s.Log.Debug(s.stats())
	}
	if task.Hard && !s.local(task) {
		return errors.E("execute", task.ID, errors.Invalid,
			errors.Errorf("hard task cannot run on node %d", s.Store.Node()))
	}
	defer func() {
		if p := recover(); p != nil {
			err = errors.E("execute", task.ID, errors.Fatal, errors.Errorf("stage %d: %v", task.Stage, p))
		}
	}()
	return st.fn(ctx, task)
}

func (s *Scheduler) local(task *taskdist.Task) bool {
	for _, node := range task.Locality {
		if node == s.Store.Node() {
			return true
		}
	}
	return false
}

// Finish retires a task: still-held refs beyond the first keep are
// freed, and if no other live task carries the id, the id completes
// and every blocked task whose BeforeDep names it is unblocked.
func (s *Scheduler) Finish(task *taskdist.Task, keep int) error {
	if keep < 0 {
		keep = 0
	}
	if keep > len(task.Refs) {
		keep = len(task.Refs)
	}
	for _, ref := range task.Refs[keep:] {
		s.Store.Free(ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[task.ID]--
	if s.live[task.ID] > 0 {
		// A successor (e.g., a merger) carries this id; the id
		// completes when it finishes.
		return nil
	}
	delete(s.live, task.ID)
	s.completed[task.ID] = true
	s.terminal = task
	for id, w := range s.blocked {
		if !w.waiting.Contains(task.ID) {
			continue
		}
		delete(w.waiting, task.ID)
		if len(w.waiting) == 0 {
			delete(s.blocked, id)
			s.enqueueLocked(w.task, false)
		}
	}
	s.cond.Broadcast()
	return nil
}

// Set stores a value through the backing store.
func (s *Scheduler) Set(ctx context.Context, v interface{}) (taskdist.Ref, error) {
	return s.Store.Set(ctx, v)
}

// Assign replaces the value named by an existing reference.
func (s *Scheduler) Assign(ctx context.Context, ref taskdist.Ref, v interface{}) error {
	return s.Store.Assign(ctx, ref, v)
}

// Get returns the value named by ref without releasing it.
func (s *Scheduler) Get(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	return s.Store.Get(ctx, ref)
}

// GetRelease returns the value named by ref and releases its token.
func (s *Scheduler) GetRelease(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	return s.Store.GetRelease(ctx, ref)
}

// GetReleaseAll returns the value named by ref and releases all
// residual tokens for the run's chain.
func (s *Scheduler) GetReleaseAll(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	return s.Store.GetReleaseAll(ctx, ref)
}

// AllocateTokens atomically reserves n admission tokens.
func (s *Scheduler) AllocateTokens(n int) bool {
	return s.Store.Allocate(n)
}

// NextTaskID issues a fresh task id.
func (s *Scheduler) NextTaskID() taskdist.TaskID {
	return taskdist.TaskID(atomic.AddInt64(&s.nextID, 1))
}

// NodeID returns the node of the backing store.
func (s *Scheduler) NodeID() taskdist.NodeID {
	return s.Store.Node()
}

func (s *Scheduler) stats() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("sched: %d queued, %d blocked, %d running, %d tokens",
		len(s.queue), len(s.blocked), s.running, s.Store.Available())
}
