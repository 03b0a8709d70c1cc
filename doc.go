// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package taskdist defines the data model and interfaces for a
// distributed, task-based parallel execution engine. The engine
// evaluates structured dataflow patterns -- pipelines composed of
// farms, filters, reducers, iterations, and nested pipelines -- as
// well as recursive divide-and-conquer computations, by translating
// them into graphs of typed tasks that are dispatched to a pool of
// workers by a scheduler.
//
// The package defines the boundary types shared between the pattern
// translators (package dist), the scheduler backends (package sched),
// and the data stores (package store): data references (Ref), task
// descriptors (Task), and the Scheduler and Store interfaces.
// Intermediate values flow between stages through a distributed slot
// store and are accounted for by a finite pool of admission tokens;
// each outstanding reference holds one token.
//
// Values flowing through a pipeline are wrapped in an Item carrying a
// monotone per-producer order index. Order is metadata: the engine
// carries it across stages but does not reorder items; consumers that
// need ordered output must sort by order themselves.
package taskdist
