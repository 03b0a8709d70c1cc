// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package taskdist

import (
	"fmt"
	"sort"
	"strings"
)

// StageID names a registered stage function. Stage ids are assigned
// in registration order, so the translator can address the successor
// of a stage as Stage+1.
type StageID int

// TaskID identifies a task within a run. Ids are issued by
// Scheduler.NextTaskID and are unique for the duration of the run;
// dependency edges between tasks are expressed in terms of task ids,
// never object pointers, since tasks are created dynamically by
// running stages.
type TaskID int64

// TaskSet is a set of task ids.
type TaskSet map[TaskID]bool

// NewTaskSet returns a set containing the given ids.
func NewTaskSet(ids ...TaskID) TaskSet {
	set := make(TaskSet)
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Add adds id to the set.
func (s TaskSet) Add(id TaskID) { s[id] = true }

// Contains tells whether id is in the set.
func (s TaskSet) Contains(id TaskID) bool { return s[id] }

// Copy returns a copy of the set.
func (s TaskSet) Copy() TaskSet {
	set := make(TaskSet, len(s))
	for id := range s {
		set[id] = true
	}
	return set
}

// Slice returns the set's ids in ascending order.
func (s TaskSet) Slice() []TaskID {
	ids := make([]TaskID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s TaskSet) String() string {
	strs := make([]string, 0, len(s))
	for _, id := range s.Slice() {
		strs = append(strs, fmt.Sprint(id))
	}
	return "{" + strings.Join(strs, ",") + "}"
}

// Item is a value flowing through a pipeline together with its stream
// order index. Order is assigned by the producing stage and is
// strictly increasing per producer; it is carried as metadata and is
// not enforced at stage boundaries.
type Item struct {
	Value interface{}
	Order int64
}

// Task describes one unit of work: which stage function to invoke,
// the data references it consumes, and its dependency edges. Tasks
// are constructed by stage functions (or by the scheduler's initial
// seeding), submitted with Scheduler.Submit, executed exactly once,
// and retired by Scheduler.Finish.
type Task struct {
	// Stage is the id of the registered stage function to run.
	Stage StageID
	// ID is the task's identity within the run. Several descriptors
	// may carry the same id: a task that hands its completion off to
	// a successor (a divide task to its merger) submits the successor
	// under its own id, and the id completes only when the last such
	// descriptor finishes.
	ID TaskID
	// Order is the stream order index carried through from the item
	// this task processes.
	Order int64
	// Locality lists the nodes on which the task prefers to run, in
	// preference order.
	Locality []NodeID
	// Hard, if true, requires the task to run on one of its Locality
	// nodes; otherwise locality is a hint.
	Hard bool
	// Refs holds the data references consumed by the task, in
	// argument order. Merger tasks extend this with their children's
	// result references.
	Refs []Ref
	// BeforeDep holds the ids of tasks that must complete before this
	// task may run.
	BeforeDep TaskSet
	// AfterDep holds the ids of tasks to unblock when this task
	// completes.
	AfterDep TaskSet
}

func (t *Task) String() string {
	return fmt.Sprintf("task(stage=%d,id=%d,order=%d,refs=%d)", t.Stage, t.ID, t.Order, len(t.Refs))
}
