// Package tct provides an in-memory Thread Creation Tree, used both as a
// lightweight test double for oracle.TCT and as the concrete fixture
// builder tests for forkjoin/interleave construct scenarios against.
package tct

import (
	"github.com/google/uuid"

	"valueflow/internal/cctx"
)

// node is one thread in the tree.
type node struct {
	parent       cctx.ThreadID
	hasParent    bool
	children     []cctx.ThreadID
	multiForked  bool
	startRoutine cctx.FuncID
}

// Tree is a build-once-query-many in-memory Thread Creation Tree.
type Tree struct {
	nodes map[cctx.ThreadID]*node
	k     int
}

// New returns an empty tree whose contexts are bounded at k call sites.
func New(k int) *Tree {
	return &Tree{nodes: map[cctx.ThreadID]*node{}, k: k}
}

// AddRoot registers the main thread (ThreadID 0 by convention, but the
// caller chooses the id so tests can pick readable values).
func (t *Tree) AddRoot(tid cctx.ThreadID, startRoutine cctx.FuncID) {
	t.nodes[tid] = &node{startRoutine: startRoutine}
}

// Fork registers child as spawned by parent. If parent already has a
// child, both the new and every prior child are marked multi-forked —
// a thread forked more than once along some path may run concurrently
// with its own earlier incarnation.
func (t *Tree) Fork(parent, child cctx.ThreadID, startRoutine cctx.FuncID) {
	pn, ok := t.nodes[parent]
	if !ok {
		pn = &node{}
		t.nodes[parent] = pn
	}
	pn.children = append(pn.children, child)
	t.nodes[child] = &node{parent: parent, hasParent: true, startRoutine: startRoutine}
	if len(pn.children) > 1 {
		for _, c := range pn.children {
			if cn, ok := t.nodes[c]; ok {
				cn.multiForked = true
			}
		}
	}
}

// MarkMultiForked forces tid's multi-forked flag, for fixtures that model
// a fork inside a loop without building the loop structure itself.
func (t *Tree) MarkMultiForked(tid cctx.ThreadID) {
	n, ok := t.nodes[tid]
	if !ok {
		n = &node{}
		t.nodes[tid] = n
	}
	n.multiForked = true
}

// Node reports whether tid is a registered thread.
func (t *Tree) Node(tid cctx.ThreadID) bool {
	_, ok := t.nodes[tid]
	return ok
}

// Parent returns tid's parent thread, if any.
func (t *Tree) Parent(tid cctx.ThreadID) (cctx.ThreadID, bool) {
	n, ok := t.nodes[tid]
	if !ok || !n.hasParent {
		return 0, false
	}
	return n.parent, true
}

// Children returns tid's directly-forked children.
func (t *Tree) Children(tid cctx.ThreadID) []cctx.ThreadID {
	n, ok := t.nodes[tid]
	if !ok {
		return nil
	}
	return append([]cctx.ThreadID(nil), n.children...)
}

// IsMultiForked reports whether tid may have more than one live instance.
func (t *Tree) IsMultiForked(tid cctx.ThreadID) bool {
	n, ok := t.nodes[tid]
	return ok && n.multiForked
}

// StartRoutine returns the function tid begins executing in.
func (t *Tree) StartRoutine(tid cctx.ThreadID) cctx.FuncID {
	n, ok := t.nodes[tid]
	if !ok {
		return 0
	}
	return n.startRoutine
}

// PushCxt delegates to CallingContext.Push, bounding the context at the
// tree's configured k.
func (t *Tree) PushCxt(c cctx.CallingContext, call cctx.NodeID, callee cctx.FuncID) cctx.CallingContext {
	out := cctx.NewCallingContext(t.k)
	for _, s := range c.Sites() {
		out = out.Push(s.Call, s.Callee)
	}
	return out.Push(call, callee)
}

// MatchCxt delegates to CallingContext.Matches.
func (t *Tree) MatchCxt(c cctx.CallingContext, call cctx.NodeID, callee cctx.FuncID) bool {
	return c.Matches(call, callee)
}

// NewThreadID generates a synthetic, collision-free thread id for test
// fixtures that don't care about specific numeric values.
func NewThreadID() cctx.ThreadID {
	id := uuid.New()
	var v uint64
	for _, b := range id[:8] {
		v = v<<8 | uint64(b)
	}
	return cctx.ThreadID(v)
}
