// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package taskdist

import "context"

// Store is a node's slot store together with its admission token
// pool. Values are stored into fresh slots by Set and named by Refs;
// each live slot holds one token. Scheduler backends delegate their
// data-plane operations to a Store, so alternative stores (in-memory,
// file-backed, remote) can back the same scheduler.
//
// Token accounting: Allocate(n) moves n tokens from the free pool
// into a reservation; Set consumes a reservation first, then the free
// pool, then (when none is outstanding) the pool's single overdraft
// credit that lets a run seed its first value on an empty pool; the
// next release repays it, after which it can be drawn again. GetRelease and Free
// return a slot's token; GetReleaseAll also clears the overdraft,
// restoring the pool to its initial level.
type Store interface {
	// Node returns the node this store belongs to.
	Node() NodeID

	// Set stores v into a fresh slot and returns its reference,
	// blocking until a token is available.
	Set(ctx context.Context, v interface{}) (Ref, error)

	// Assign replaces the value in an existing live slot.
	Assign(ctx context.Context, ref Ref, v interface{}) error

	// Get returns the value named by ref without releasing it.
	Get(ctx context.Context, ref Ref) (interface{}, error)

	// GetRelease returns the value named by ref, frees the slot, and
	// releases its token.
	GetRelease(ctx context.Context, ref Ref) (interface{}, error)

	// GetReleaseAll returns the value named by ref, frees the slot,
	// and releases all residual tokens (the slot's and any
	// outstanding overdraft).
	GetReleaseAll(ctx context.Context, ref Ref) (interface{}, error)

	// Free releases ref's slot and token if the slot is still live;
	// it is a no-op for an already-freed slot.
	Free(ref Ref)

	// Allocate atomically reserves n tokens, or reserves none and
	// returns false.
	Allocate(n int) bool

	// Available returns the number of unreserved free tokens.
	Available() int
}
