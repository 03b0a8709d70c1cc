// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"testing"

	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/log"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte("workers: 8\ntokens: 128\nordering: true\nloglevel: debug\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c, (Config{Workers: 8, Tokens: 128, Ordering: true, LogLevel: "debug"}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	level, err := c.Level()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := level, log.DebugLevel; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseBadLevel(t *testing.T) {
	_, err := Parse([]byte("loglevel: chatty\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("error %v: expected kind Invalid", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c := Config{Workers: 4, Tokens: 32, LogLevel: "error"}
	b, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	c2, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c2, c; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMerge(t *testing.T) {
	c := Default()
	c.Merge(Config{Tokens: 16, Ordering: true})
	if got, want := c, (Config{Tokens: 16, Ordering: true, LogLevel: "info"}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Zero fields do not clobber.
	c.Merge(Config{Workers: 2})
	if got, want := c.Tokens, 16; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFromEnv(t *testing.T) {
	defer os.Unsetenv(EnvTokens)
	defer os.Unsetenv(EnvOrdering)
	if err := os.Setenv(EnvTokens, "7"); err != nil {
		t.Fatal(err)
	}
	if err := os.Setenv(EnvOrdering, "true"); err != nil {
		t.Fatal(err)
	}
	c, err := FromEnv(Default())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Tokens, 7; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !c.Ordering {
		t.Error("ordering not applied from environment")
	}
	if err := os.Setenv(EnvTokens, "not-a-number"); err != nil {
		t.Fatal(err)
	}
	if _, err := FromEnv(Default()); err == nil {
		t.Error("expected error")
	}
}
