// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package taskdist

import "fmt"

// NodeID identifies a node participating in a run. Node ids are
// assigned by the port service when a node joins the cluster; the
// in-process backends use a single node.
type NodeID int

// SlotID identifies one cell in a node's slot store. Slot ids are
// never reused within a run: a released slot stays invalid.
type SlotID int64

// Ref is an opaque handle to a single value held in the distributed
// data store. A Ref is immutable once issued by Store.Set. The value
// it names is retrieved with Get (non-releasing) or GetRelease, which
// frees the slot and returns its admission token to the pool. A Ref
// is released at most once; access after release is an error of kind
// errors.NotExist.
type Ref struct {
	Node NodeID
	Slot SlotID
}

// IsZero tells whether r is the zero (invalid) reference.
func (r Ref) IsZero() bool { return r == Ref{} }

func (r Ref) String() string {
	return fmt.Sprintf("ref(%d,%d)", r.Node, r.Slot)
}
