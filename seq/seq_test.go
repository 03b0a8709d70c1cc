// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package seq

import (
	"testing"

	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/pattern"
)

func interval(lo, hi int) []int {
	vs := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		vs = append(vs, i)
	}
	return vs
}

func halve(v interface{}) []interface{} {
	vs := v.([]int)
	return []interface{}{vs[:len(vs)/2], vs[len(vs)/2:]}
}

func small(v interface{}) bool { return len(v.([]int)) <= 1 }

func leaf(v interface{}) interface{} {
	vs := v.([]int)
	if len(vs) == 0 {
		return 0
	}
	return vs[0]
}

func sum(a, b interface{}) interface{} { return a.(int) + b.(int) }

func TestDivideConquer(t *testing.T) {
	var ex Exec
	result, err := ex.DivideConquer(interval(1, 1025), halve, small, leaf, sum)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := result.(int), 524800; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDivideConquerBaseCase(t *testing.T) {
	var ex Exec
	result, err := ex.DivideConquer([]int{7}, halve, small, leaf, sum)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := result.(int), 7; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMisshapenDivide(t *testing.T) {
	var ex Exec
	degenerate := func(v interface{}) []interface{} {
		return []interface{}{v}
	}
	_, err := ex.DivideConquer(interval(0, 8), degenerate, small, leaf, sum)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Misshapen, err) {
		t.Errorf("error %v: expected kind Misshapen", err)
	}
}

func TestReduce(t *testing.T) {
	var ex Exec
	window := []interface{}{1, 2, 3, 4}
	if got, want := ex.Reduce(window, 10, pattern.Combine(sum)).(int), 20; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := ex.Reduce(nil, 10, pattern.Combine(sum)).(int), 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
