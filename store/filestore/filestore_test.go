// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package filestore

import (
	"context"
	"encoding/gob"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/taskdist"
	"github.com/grailbio/taskdist/errors"
)

type payload struct {
	Values []int
	Label  string
}

func init() {
	gob.Register(payload{})
	gob.Register(taskdist.Item{})
}

func newTestStore(t *testing.T, tokens int) (*Store, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "filestore")
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(dir, 0, tokens)
	if err != nil {
		t.Fatal(err)
	}
	return s, func() { _ = os.RemoveAll(dir) }
}

func TestRoundTrip(t *testing.T) {
	s, cleanup := newTestStore(t, 4)
	defer cleanup()
	ctx := context.Background()
	want := payload{Values: []int{1, 2, 3}, Label: "abc"}
	ref, err := s.Set(ctx, want)
	if err != nil {
		t.Fatal(err)
	}
	if s.Size() <= 0 {
		t.Errorf("size %v: expected positive", s.Size())
	}
	v, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	got := v.(payload)
	if got.Label != want.Label || len(got.Values) != len(want.Values) {
		t.Errorf("got %v, want %v", got, want)
	}
	v, err = s.GetRelease(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v.(payload).Label, "abc"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Available(), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Size(), int64(0); int64(got) != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err = s.Get(ctx, ref); !errors.Is(errors.NotExist, err) {
		t.Errorf("error %v: expected kind NotExist", err)
	}
}

func TestAssign(t *testing.T) {
	s, cleanup := newTestStore(t, 2)
	defer cleanup()
	ctx := context.Background()
	ref, err := s.Set(ctx, payload{Label: "before"})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Assign(ctx, ref, payload{Label: "after"}); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Available(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	v, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v.(payload).Label, "after"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestIntegrity(t *testing.T) {
	s, cleanup := newTestStore(t, 2)
	defer cleanup()
	ctx := context.Background()
	ref, err := s.Set(ctx, payload{Label: "x"})
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the slot file behind the store's back.
	path := filepath.Join(s.Root, "slot-1")
	if err = ioutil.WriteFile(path, []byte("corrupt"), 0666); err != nil {
		t.Fatal(err)
	}
	if _, err = s.Get(ctx, ref); !errors.Is(errors.Integrity, err) {
		t.Errorf("error %v: expected kind Integrity", err)
	}
}

func TestVacuum(t *testing.T) {
	s, cleanup := newTestStore(t, 4)
	defer cleanup()
	ctx := context.Background()
	ref, err := s.Set(ctx, payload{Label: "live"})
	if err != nil {
		t.Fatal(err)
	}
	// Simulate leftovers from a crashed run.
	for _, name := range []string{"slot-99", "put-123"} {
		if err = ioutil.WriteFile(filepath.Join(s.Root, name), []byte("stale"), 0666); err != nil {
			t.Fatal(err)
		}
	}
	if err = s.Vacuum(ctx); err != nil {
		t.Fatal(err)
	}
	infos, err := ioutil.ReadDir(s.Root)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(infos), 1; got != want {
		t.Fatalf("got %v files, want %v", got, want)
	}
	// The live slot survives.
	if _, err = s.Get(ctx, ref); err != nil {
		t.Fatal(err)
	}
}
