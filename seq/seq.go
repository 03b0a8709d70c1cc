// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package seq implements the sequential execution policy. It
// evaluates divide-and-conquer problems by direct recursion and folds
// reducer windows in place. The distributed policy falls back to this
// policy for a divide-and-conquer subtree when the token pool cannot
// admit the subtree's fan-out; the fallback uses the same user
// callables and never touches the token allocator.
package seq

import (
	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/pattern"
)

// Exec is the sequential execution policy. The zero value is ready
// to use.
type Exec struct{}

// DivideConquer evaluates a divide-and-conquer problem recursively.
// The predicate wins over divide: a problem satisfying the predicate
// is solved directly even if it is divisible. A divide producing
// fewer than two subproblems for a non-base case is an error of kind
// errors.Misshapen.
func (e Exec) DivideConquer(input interface{}, divide pattern.Divide, pred pattern.Predicate, solve pattern.Solve, combine pattern.Combine) (interface{}, error) {
	if pred(input) {
		return solve(input), nil
	}
	subs := divide(input)
	if len(subs) < 2 {
		return nil, errors.E("divide", errors.Misshapen, errors.Errorf("%d subproblems for a non-base case", len(subs)))
	}
	result, err := e.DivideConquer(subs[0], divide, pred, solve, combine)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs[1:] {
		partial, err := e.DivideConquer(sub, divide, pred, solve, combine)
		if err != nil {
			return nil, err
		}
		result = combine(result, partial)
	}
	return result, nil
}

// Reduce folds a window of values with combine, starting from
// identity. It implements pattern.SequentialReducer.
func (Exec) Reduce(window []interface{}, identity interface{}, combine pattern.Combine) interface{} {
	acc := identity
	for _, v := range window {
		acc = combine(acc, v)
	}
	return acc
}
