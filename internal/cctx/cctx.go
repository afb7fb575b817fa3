// Package cctx implements the k-CFA context-sensitivity data model: a
// bounded call-string CallingContext, and the two keys built from it that
// the rest of this core indexes by — CxtStmt and CxtThreadStmt.
package cctx

import (
	"fmt"
	"strings"
)

// NodeID identifies a node in the ICFG (a statement or basic block,
// depending on what the oracle chooses to expose). Opaque to this core.
type NodeID uint64

// FuncID identifies a callee function in the ICFG.
type FuncID uint64

// ThreadID identifies a thread in the Thread Creation Tree. The main
// thread is ThreadID(0).
type ThreadID uint64

// CallSite is one frame of a bounded call string: the call instruction
// and the function it entered.
type CallSite struct {
	Call   NodeID
	Callee FuncID
}

// CallingContext is an immutable, bounded sequence of CallSites — the
// k-CFA call string. Two contexts with the same sites in the same order
// are the same context, regardless of how they were built.
type CallingContext struct {
	sites []CallSite
	k     int
}

// NewCallingContext returns the empty context bounded at k call sites.
// k<=0 degenerates to context-insensitivity (every Push is a no-op).
func NewCallingContext(k int) CallingContext {
	if k < 0 {
		k = 0
	}
	return CallingContext{k: k}
}

// K reports the bound this context was constructed with.
func (c CallingContext) K() int { return c.k }

// Len reports the number of call sites currently held (<=K).
func (c CallingContext) Len() int { return len(c.sites) }

// Push returns the context obtained by entering callee via call,
// truncating to the most recent K-1 existing sites plus the new one — the
// standard k-CFA truncation that drops the oldest frames. Push on a bound-0 context
// returns c unchanged.
func (c CallingContext) Push(call NodeID, callee FuncID) CallingContext {
	if c.k <= 0 {
		return c
	}
	site := CallSite{Call: call, Callee: callee}
	n := len(c.sites)
	start := 0
	if n+1 > c.k {
		start = n + 1 - c.k
	}
	next := make([]CallSite, 0, c.k)
	next = append(next, c.sites[start:]...)
	next = append(next, site)
	return CallingContext{sites: next, k: c.k}
}

// Sites returns the call sites in call order, oldest first. The caller
// must not mutate the returned slice.
func (c CallingContext) Sites() []CallSite { return c.sites }

// Matches reports whether call/callee is consistent with the most recent
// frame of c — i.e. whether a return along this context would land back
// through the call that pushed it. An empty context matches anything (no
// frame to check against, the conservative answer at context-insensitive
// bound 0 or at the entry context).
func (c CallingContext) Matches(call NodeID, callee FuncID) bool {
	if len(c.sites) == 0 {
		return true
	}
	top := c.sites[len(c.sites)-1]
	return top.Call == call && top.Callee == callee
}

// Pop returns the context with its most recent frame removed, for
// matching a return against the context active at the call. Pop on an
// empty context returns c unchanged.
func (c CallingContext) Pop() CallingContext {
	if len(c.sites) == 0 {
		return c
	}
	return CallingContext{sites: append([]CallSite(nil), c.sites[:len(c.sites)-1]...), k: c.k}
}

// Equals reports structural equality: same sites in the same order. The
// bound K is not part of identity — two contexts built under different
// bounds but holding the same sites are the same context.
func (c CallingContext) Equals(other CallingContext) bool {
	if len(c.sites) != len(other.sites) {
		return false
	}
	for i, s := range c.sites {
		if s != other.sites[i] {
			return false
		}
	}
	return true
}

// Hash returns a deterministic hash of c's call-site sequence, combined
// with the FNV-mixing step this core uses throughout:
// h ^= x + 0x9e3779b9 + (h<<6) + (h>>2).
func (c CallingContext) Hash() uint64 {
	var h uint64
	for _, s := range c.sites {
		h = mix(h, uint64(s.Call))
		h = mix(h, uint64(s.Callee))
	}
	return h
}

func mix(h, x uint64) uint64 {
	return h ^ (x + 0x9e3779b9 + (h << 6) + (h >> 2))
}

func (c CallingContext) String() string {
	parts := make([]string, len(c.sites))
	for i, s := range c.sites {
		parts[i] = fmt.Sprintf("%d@%d", s.Callee, s.Call)
	}
	return "[" + strings.Join(parts, "/") + "]"
}

// Key returns a canonical comparable encoding of c, for use as (part of)
// a Go map key — CallingContext itself holds a slice and so is not
// comparable with ==.
func (c CallingContext) Key() string { return c.String() }

// CxtStmt pairs a CallingContext with an ICFG node — the key C1 indexes
// per-program-point abstract state by.
type CxtStmt struct {
	Cxt  CallingContext
	Stmt NodeID
}

// Equals reports structural equality.
func (cs CxtStmt) Equals(other CxtStmt) bool {
	return cs.Stmt == other.Stmt && cs.Cxt.Equals(other.Cxt)
}

// Hash returns a deterministic hash combining the context hash and the
// node id with the same mixing step as CallingContext.Hash.
func (cs CxtStmt) Hash() uint64 {
	return mix(cs.Cxt.Hash(), uint64(cs.Stmt))
}

func (cs CxtStmt) String() string {
	return fmt.Sprintf("%s:%d", cs.Cxt.String(), cs.Stmt)
}

// Key returns a canonical comparable encoding of cs, safe to use as a Go
// map key (CxtStmt embeds a CallingContext, which is not comparable).
func (cs CxtStmt) Key() string { return cs.String() }

// CxtThreadStmt extends CxtStmt with a thread id — the key C2's
// interleaving analysis indexes by.
type CxtThreadStmt struct {
	Cxt  CallingContext
	Tid  ThreadID
	Stmt NodeID
}

// Equals reports structural equality.
func (cts CxtThreadStmt) Equals(other CxtThreadStmt) bool {
	return cts.Stmt == other.Stmt && cts.Tid == other.Tid && cts.Cxt.Equals(other.Cxt)
}

// Hash returns a deterministic hash over all three fields.
func (cts CxtThreadStmt) Hash() uint64 {
	return mix(mix(cts.Cxt.Hash(), uint64(cts.Tid)), uint64(cts.Stmt))
}

// CxtStmt drops the thread id, recovering the C1-style key.
func (cts CxtThreadStmt) CxtStmt() CxtStmt {
	return CxtStmt{Cxt: cts.Cxt, Stmt: cts.Stmt}
}

func (cts CxtThreadStmt) String() string {
	return fmt.Sprintf("%s:t%d:%d", cts.Cxt.String(), cts.Tid, cts.Stmt)
}

// Key returns a canonical comparable encoding of cts, safe to use as a Go
// map key (CxtThreadStmt embeds a CallingContext, which is not
// comparable).
func (cts CxtThreadStmt) Key() string { return cts.String() }
