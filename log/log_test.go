// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import "testing"

type testOutputter struct {
	messages []string
}

func (t *testOutputter) Output(calldepth int, s string) error {
	t.messages = append(t.messages, s)
	return nil
}

func TestLevels(t *testing.T) {
	out := new(testOutputter)
	logger := New(out, InfoLevel)
	logger.Debug("debug")
	logger.Print("info")
	logger.Error("error")
	if got, want := len(out.messages), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := out.messages[0], "info"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := out.messages[1], "error"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNil(t *testing.T) {
	var logger *Logger
	// Nil loggers drop everything without panicking.
	logger.Printf("x %d", 1)
	logger.Debug("y")
	if logger.At(ErrorLevel) {
		t.Error("nil logger should be at no level")
	}
	if logger.Tee(nil, "prefix: ") != nil {
		t.Error("tee of nil logger should be nil")
	}
}

func TestTee(t *testing.T) {
	parentOut := new(testOutputter)
	childOut := new(testOutputter)
	parent := New(parentOut, DebugLevel)
	child := parent.Tee(childOut, "child: ")
	child.Debugf("message %d", 123)
	if got, want := len(childOut.messages), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := childOut.messages[0], "message 123"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(parentOut.messages), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := parentOut.messages[0], "child: message 123"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
