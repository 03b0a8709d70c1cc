// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store implements slot stores for the engine's intermediate
// values. A store pairs a slot map, addressed by data references,
// with the node's admission token pool: each live slot holds one
// token, so the pool's capacity bounds the values a node keeps in
// flight. Memory is the in-process store used by the scheduler
// backend; package filestore provides a file-backed alternative
// behind the same interface.
package store

import (
	"context"
	"sync"

	"github.com/grailbio/taskdist"
	"github.com/grailbio/taskdist/errors"
)

type slot struct {
	value interface{}
}

// Memory is an in-memory slot store. Slot ids are monotone and never
// reused, so a released reference stays invalid for the rest of the
// run.
type Memory struct {
	node   taskdist.NodeID
	tokens *TokenPool

	mu    sync.Mutex
	next  taskdist.SlotID
	slots map[taskdist.SlotID]*slot
}

var _ taskdist.Store = (*Memory)(nil)

// New returns a memory store for the given node with a token pool of
// the given capacity.
func New(node taskdist.NodeID, tokens int) *Memory {
	return &Memory{
		node:   node,
		tokens: NewTokenPool(tokens),
		slots:  map[taskdist.SlotID]*slot{},
	}
}

// Node returns the node this store belongs to.
func (m *Memory) Node() taskdist.NodeID { return m.node }

// Tokens returns the store's token pool.
func (m *Memory) Tokens() *TokenPool { return m.tokens }

// Set stores v into a fresh slot, consuming one token.
func (m *Memory) Set(ctx context.Context, v interface{}) (taskdist.Ref, error) {
	if err := m.tokens.Acquire(ctx, true); err != nil {
		return taskdist.Ref{}, errors.E("set", err)
	}
	m.mu.Lock()
	m.next++
	ref := taskdist.Ref{Node: m.node, Slot: m.next}
	m.slots[ref.Slot] = &slot{value: v}
	m.mu.Unlock()
	return ref, nil
}

// Assign replaces the value in an existing live slot.
func (m *Memory) Assign(ctx context.Context, ref taskdist.Ref, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[ref.Slot]
	if s == nil {
		return errors.E("assign", ref, errors.NotExist)
	}
	s.value = v
	return nil
}

// Get returns the value named by ref without releasing it.
func (m *Memory) Get(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[ref.Slot]
	if s == nil {
		return nil, errors.E("get", ref, errors.NotExist)
	}
	return s.value, nil
}

// GetRelease returns the value named by ref, frees its slot, and
// releases its token.
func (m *Memory) GetRelease(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	v, err := m.release(ref, "getrelease")
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetReleaseAll returns the value named by ref, frees its slot, and
// releases all residual tokens, repaying any outstanding overdraft.
func (m *Memory) GetReleaseAll(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	v, err := m.release(ref, "getreleaseall")
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Memory) release(ref taskdist.Ref, op string) (interface{}, error) {
	m.mu.Lock()
	s := m.slots[ref.Slot]
	if s == nil {
		m.mu.Unlock()
		return nil, errors.E(op, ref, errors.NotExist)
	}
	delete(m.slots, ref.Slot)
	m.mu.Unlock()
	m.tokens.Release()
	return s.value, nil
}

// Free releases ref's slot and token if the slot is still live.
func (m *Memory) Free(ref taskdist.Ref) {
	m.mu.Lock()
	_, live := m.slots[ref.Slot]
	delete(m.slots, ref.Slot)
	m.mu.Unlock()
	if live {
		m.tokens.Release()
	}
}

// Allocate atomically reserves n tokens.
func (m *Memory) Allocate(n int) bool { return m.tokens.Allocate(n) }

// Available returns the number of unreserved free tokens.
func (m *Memory) Available() int { return m.tokens.Available() }

// Len returns the number of live slots.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
