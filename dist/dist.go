// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dist implements the distributed task execution policy: it
// translates pattern compositions into graphs of tasks and runs them
// through a scheduler backend.
//
// A pipeline composition is translated stage by stage: the generator
// becomes a sequential source stage, and each subsequent position in
// the chain (plain callable, farm, filter, reduce, iteration, or
// spliced nested pipeline) registers one stage function that consumes
// an input reference, computes, stores its output under a fresh
// reference, and submits the successor task. A divide-and-conquer
// call registers four stage functions (initial divide, divide, merge,
// end) that grow the task graph at runtime; when the token pool
// cannot admit a divide's fan-out, the subtree falls back to the
// sequential policy.
//
// Stage functions capture the policy's scheduler handle and must not
// outlive the Run call that consumes them; a fresh translation is
// performed for every Pipeline or DivideConquer call.
package dist

import (
	"github.com/grailbio/taskdist"
	"github.com/grailbio/taskdist/config"
	"github.com/grailbio/taskdist/log"
)

// Exec is the distributed execution policy. It owns a shared
// scheduler handle, a configuration, and the advisory ordering flag.
// An Exec must not be copied; the scheduler handle must outlive all
// stage functions registered through it.
type Exec struct {
	sched    taskdist.Scheduler
	config   config.Config
	ordering bool
	log      *log.Logger
}

// New returns an execution policy over the provided scheduler. The
// configuration's ordering flag seeds the policy's; logger may be
// nil.
func New(sched taskdist.Scheduler, cfg config.Config, logger *log.Logger) *Exec {
	return &Exec{
		sched:    sched,
		config:   cfg,
		ordering: cfg.Ordering,
		log:      logger,
	}
}

// EnableOrdering enables ordered delivery. The flag is advisory: it
// is made available to the backend, but the engine itself only
// carries order metadata.
func (e *Exec) EnableOrdering() { e.ordering = true }

// DisableOrdering disables ordered delivery.
func (e *Exec) DisableOrdering() { e.ordering = false }

// IsOrdered tells whether ordered delivery is enabled.
func (e *Exec) IsOrdered() bool { return e.ordering }

// Scheduler returns the policy's scheduler handle.
func (e *Exec) Scheduler() taskdist.Scheduler { return e.sched }
