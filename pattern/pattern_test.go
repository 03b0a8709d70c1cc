// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pattern_test

import (
	"testing"

	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/pattern"
	"github.com/grailbio/taskdist/seq"
)

func TestClassify(t *testing.T) {
	double := func(v interface{}) interface{} { return v.(int) * 2 }
	sink := func(v interface{}) {}
	even := func(v interface{}) bool { return v.(int)%2 == 0 }
	add := func(a, b interface{}) interface{} { return a.(int) + b.(int) }

	cases := []struct {
		stage interface{}
		class pattern.Class
	}{
		{double, pattern.Callable},
		{pattern.Transform(double), pattern.Callable},
		{sink, pattern.Callable},
		{pattern.Consume(sink), pattern.Callable},
		{pattern.NewFarm(pattern.Transform(double)), pattern.FarmClass},
		{pattern.NewFilter(even), pattern.FilterClass},
		{pattern.NewReduce(10, 0, add), pattern.ReduceClass},
		{pattern.NewIteration(pattern.Transform(double), even), pattern.IterationClass},
		{pattern.NewPipe(pattern.Transform(double), pattern.Consume(sink)), pattern.PipeClass},
	}
	for i, c := range cases {
		class, err := pattern.Classify(c.stage)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if got, want := class, c.class; got != want {
			t.Errorf("case %d: got %v, want %v", i, got, want)
		}
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	_, err := pattern.Classify(42)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Translation, err) {
		t.Errorf("error %v: expected kind Translation", err)
	}
}

func TestReduceWindow(t *testing.T) {
	add := func(a, b interface{}) interface{} { return a.(int) + b.(int) }
	red := pattern.NewReduce(3, 0, add)
	for i := 1; i <= 2; i++ {
		red.AddItem(i)
		if red.ReductionNeeded() {
			t.Fatalf("reduction needed after %d items", i)
		}
	}
	red.AddItem(3)
	if !red.ReductionNeeded() {
		t.Fatal("reduction not needed after full window")
	}
	if got, want := red.ReduceWindow(seq.Exec{}).(int), 6; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The window resets after a reduction.
	if red.ReductionNeeded() {
		t.Error("reduction needed after reset")
	}
}
