// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package filestore implements a filesystem-backed slot store. Values
// are gob-encoded into one file per slot, named by slot id, together
// with the digest of the encoded payload; the digest is verified on
// every read, so a corrupted slot surfaces as an integrity error
// rather than a bad value. Callers must register their concrete
// value types with encoding/gob.
//
// The store bounds its concurrent file I/O and accounts for the
// bytes it holds; Vacuum removes files left behind by a crashed run.
package filestore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/taskdist"
	"github.com/grailbio/taskdist/errors"
	"github.com/grailbio/taskdist/log"
	"github.com/grailbio/taskdist/store"
)

// maxIO bounds the store's concurrent file operations.
const maxIO = 16

// Store is a filesystem-backed slot store.
type Store struct {
	// Root is the directory holding the slot files.
	Root string
	// Log receives debug output.
	Log *log.Logger

	node   taskdist.NodeID
	tokens *store.TokenPool
	lim    *limiter.Limiter

	mu    sync.Mutex
	next  taskdist.SlotID
	live  map[taskdist.SlotID]slotMeta
	bytes data.Size
}

type slotMeta struct {
	digest digest.Digest
	size   data.Size
}

var _ taskdist.Store = (*Store)(nil)

// New returns a file store rooted at dir for the given node with a
// token pool of the given capacity.
func New(dir string, node taskdist.NodeID, tokens int) (*Store, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.E("filestore.new", dir, err)
	}
	lim := limiter.New()
	lim.Release(maxIO)
	return &Store{
		Root:   dir,
		node:   node,
		tokens: store.NewTokenPool(tokens),
		lim:    lim,
		live:   map[taskdist.SlotID]slotMeta{},
	}, nil
}

// Node returns the node this store belongs to.
func (s *Store) Node() taskdist.NodeID { return s.node }

func (s *Store) path(id taskdist.SlotID) string {
	return filepath.Join(s.Root, fmt.Sprintf("slot-%d", id))
}

func encode(v interface{}) ([]byte, digest.Digest, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(&v); err != nil {
		return nil, digest.Digest{}, err
	}
	return b.Bytes(), taskdist.Digester.FromBytes(b.Bytes()), nil
}

func (s *Store) write(ctx context.Context, path string, payload []byte) error {
	if err := s.lim.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lim.Release(1)
	tmp, err := ioutil.TempFile(s.Root, "put-")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(payload); err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Set stores v into a fresh slot file, consuming one token.
func (s *Store) Set(ctx context.Context, v interface{}) (taskdist.Ref, error) {
	payload, d, err := encode(v)
	if err != nil {
		return taskdist.Ref{}, errors.E("filestore.set", err)
	}
	if err = s.tokens.Acquire(ctx, true); err != nil {
		return taskdist.Ref{}, errors.E("filestore.set", err)
	}
	s.mu.Lock()
	s.next++
	id := s.next
	s.mu.Unlock()
	if err = s.write(ctx, s.path(id), payload); err != nil {
		s.tokens.Release()
		return taskdist.Ref{}, errors.E("filestore.set", err)
	}
	s.mu.Lock()
	s.live[id] = slotMeta{digest: d, size: data.Size(len(payload))}
	s.bytes += data.Size(len(payload))
	s.mu.Unlock()
	s.Log.Debugf("filestore: slot %d <- %s (%s)", id, d.Short(), data.Size(len(payload)))
	return taskdist.Ref{Node: s.node, Slot: id}, nil
}

// Assign replaces the value in an existing live slot.
func (s *Store) Assign(ctx context.Context, ref taskdist.Ref, v interface{}) error {
	payload, d, err := encode(v)
	if err != nil {
		return errors.E("filestore.assign", ref, err)
	}
	s.mu.Lock()
	_, ok := s.live[ref.Slot]
	s.mu.Unlock()
	if !ok {
		return errors.E("filestore.assign", ref, errors.NotExist)
	}
	if err = s.write(ctx, s.path(ref.Slot), payload); err != nil {
		return errors.E("filestore.assign", ref, err)
	}
	s.mu.Lock()
	if old, ok := s.live[ref.Slot]; ok {
		s.live[ref.Slot] = slotMeta{digest: d, size: data.Size(len(payload))}
		s.bytes += data.Size(len(payload)) - old.size
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) read(ctx context.Context, ref taskdist.Ref, op string) (interface{}, error) {
	s.mu.Lock()
	meta, ok := s.live[ref.Slot]
	s.mu.Unlock()
	if !ok {
		return nil, errors.E(op, ref, errors.NotExist)
	}
	if err := s.lim.Acquire(ctx, 1); err != nil {
		return nil, errors.E(op, ref, err)
	}
	payload, err := ioutil.ReadFile(s.path(ref.Slot))
	s.lim.Release(1)
	if err != nil {
		return nil, errors.E(op, ref, err)
	}
	if got := taskdist.Digester.FromBytes(payload); got != meta.digest {
		return nil, errors.E(op, ref, errors.Integrity, errors.Errorf("digest %v does not match %v", got, meta.digest))
	}
	var v interface{}
	if err = gob.NewDecoder(bytes.NewReader(payload)).Decode(&v); err != nil {
		return nil, errors.E(op, ref, err)
	}
	return v, nil
}

// Get returns the value named by ref without releasing it.
func (s *Store) Get(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	return s.read(ctx, ref, "filestore.get")
}

// GetRelease returns the value named by ref, removes its slot file,
// and releases its token.
func (s *Store) GetRelease(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	v, err := s.read(ctx, ref, "filestore.getrelease")
	if err != nil {
		return nil, err
	}
	s.Free(ref)
	return v, nil
}

// GetReleaseAll returns the value named by ref, removes its slot
// file, and releases all residual tokens.
func (s *Store) GetReleaseAll(ctx context.Context, ref taskdist.Ref) (interface{}, error) {
	return s.GetRelease(ctx, ref)
}

// Free removes ref's slot file and releases its token if the slot is
// still live.
func (s *Store) Free(ref taskdist.Ref) {
	s.mu.Lock()
	meta, live := s.live[ref.Slot]
	delete(s.live, ref.Slot)
	if live {
		s.bytes -= meta.size
	}
	s.mu.Unlock()
	if !live {
		return
	}
	if err := os.Remove(s.path(ref.Slot)); err != nil {
		s.Log.Errorf("filestore: remove slot %d: %v", ref.Slot, err)
	}
	s.tokens.Release()
}

// Allocate atomically reserves n tokens.
func (s *Store) Allocate(n int) bool { return s.tokens.Allocate(n) }

// Available returns the number of unreserved free tokens.
func (s *Store) Available() int { return s.tokens.Available() }

// Size returns the total payload bytes currently stored.
func (s *Store) Size() data.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Vacuum removes slot files under the store's root that are not
// live, in parallel. It is intended for reclaiming space left behind
// by an earlier crashed run.
func (s *Store) Vacuum(ctx context.Context) error {
	infos, err := ioutil.ReadDir(s.Root)
	if err != nil {
		return errors.E("filestore.vacuum", s.Root, err)
	}
	var stale []string
	s.mu.Lock()
	for _, info := range infos {
		name := info.Name()
		if !strings.HasPrefix(name, "slot-") && !strings.HasPrefix(name, "put-") {
			continue
		}
		if id, err := strconv.ParseInt(strings.TrimPrefix(name, "slot-"), 10, 64); err == nil {
			if _, ok := s.live[taskdist.SlotID(id)]; ok {
				continue
			}
		}
		stale = append(stale, filepath.Join(s.Root, name))
	}
	s.mu.Unlock()
	return traverse.Each(len(stale), func(i int) error {
		if err := s.lim.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.lim.Release(1)
		return os.Remove(stale[i])
	})
}
