// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
)

// A TokenPool accounts for a node's admission tokens. One token
// corresponds to one outstanding slot; the pool bounds the number of
// intermediate values a node may hold at once, providing the engine's
// back pressure.
//
// Tokens move between three places: the free pool, reservations made
// by Allocate, and live slots. Acquire consumes a reservation first
// and the free pool second; when both are empty it may consume the
// pool's single overdraft credit, which exists so that a run can seed
// its first value on an exhausted pool. At most one overdraft is
// outstanding at a time; releases repay it before refilling the free
// pool.
type TokenPool struct {
	mu   sync.Mutex
	cond *ctxsync.Cond

	capacity  int
	avail     int
	reserved  int
	overdraft int
}

// NewTokenPool returns a pool with the given capacity.
func NewTokenPool(capacity int) *TokenPool {
	p := &TokenPool{capacity: capacity, avail: capacity}
	p.cond = ctxsync.NewCond(&p.mu)
	return p
}

// Acquire obtains one token, blocking until one is available or the
// context is done. Overdraft permits acquisition from an empty pool
// once.
func (p *TokenPool) Acquire(ctx context.Context, overdraft bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		switch {
		case p.reserved > 0:
			p.reserved--
			return nil
		case p.avail > 0:
			p.avail--
			return nil
		case overdraft && p.overdraft == 0:
			p.overdraft++
			return nil
		}
		if err := p.cond.Wait(ctx); err != nil {
			return err
		}
	}
}

// Release returns one token, repaying an outstanding overdraft before
// refilling the free pool.
func (p *TokenPool) Release() {
	p.mu.Lock()
	if p.overdraft > 0 {
		p.overdraft--
	} else {
		p.avail++
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Allocate atomically moves n tokens from the free pool into the
// reservation, or moves none and returns false.
func (p *TokenPool) Allocate(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.avail < n {
		return false
	}
	p.avail -= n
	p.reserved += n
	return true
}

// Available returns the number of unreserved free tokens.
func (p *TokenPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avail
}

// Capacity returns the pool's configured capacity.
func (p *TokenPool) Capacity() int { return p.capacity }

func (p *TokenPool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("tokens(%d/%d avail, %d reserved, %d overdraft)", p.avail, p.capacity, p.reserved, p.overdraft)
}
