// Package oracle declares the read-only external interfaces this core
// consumes: ICFG, Thread Call Graph, Thread Creation Tree, Pointer
// Analysis, and Scalar Evolution. None of them are implemented
// here — IR ingestion, ICFG/call-graph/TCT construction, and pointer
// analysis are out of scope; this core is handed working
// implementations and only ever reads from them.
package oracle

import "valueflow/internal/cctx"

// ICFG is the interprocedural control-flow graph oracle.
type ICFG interface {
	Entry(f cctx.FuncID) cctx.NodeID
	Exit(f cctx.FuncID) cctx.NodeID
	Successors(n cctx.NodeID) []cctx.NodeID
	IsCall(n cctx.NodeID) bool
	Callees(n cctx.NodeID) []cctx.FuncID
	IsFork(n cctx.NodeID) bool
	IsJoin(n cctx.NodeID) bool
	// ForkedThreadValue returns the id used to name the thread a fork
	// statement spawns, for correlating it against the TCT.
	ForkedThreadValue(n cctx.NodeID) uint32
	// JoinedThreadValue returns the handle id a join statement waits on.
	JoinedThreadValue(n cctx.NodeID) uint32
}

// ThreadCallGraph classifies call sites as thread-spawning primitives.
type ThreadCallGraph interface {
	IsTDFork(call cctx.NodeID) bool
	IsTDJoin(call cctx.NodeID) bool
	ConnectedFromMain(f cctx.FuncID) bool
}

// TCT is the Thread Creation Tree oracle: thread-to-thread parentage and
// the per-thread calling-context bookkeeping C2 needs to bound a fork
// site's context before descending into the spawned thread.
type TCT interface {
	Node(tid cctx.ThreadID) bool
	Parent(tid cctx.ThreadID) (cctx.ThreadID, bool)
	Children(tid cctx.ThreadID) []cctx.ThreadID
	IsMultiForked(tid cctx.ThreadID) bool
	StartRoutine(tid cctx.ThreadID) cctx.FuncID
	PushCxt(c cctx.CallingContext, call cctx.NodeID, callee cctx.FuncID) cctx.CallingContext
	MatchCxt(c cctx.CallingContext, call cctx.NodeID, callee cctx.FuncID) bool
}

// PointerAnalysis answers may-alias queries over opaque object/handle ids.
type PointerAnalysis interface {
	Alias(id1, id2 uint32) bool
}

// ScalarEvolution answers loop-trip-count equivalence queries, used to
// recognize the symmetric fork/join-in-loop pattern.
type ScalarEvolution interface {
	SameSCEV(forkSite, joinSite cctx.NodeID) bool
	SameTripCount(a, b cctx.NodeID) bool
	// JoinLoop returns the loop header enclosing site and true, or the
	// zero NodeID and false if site is not inside a loop.
	JoinLoop(site cctx.NodeID) (cctx.NodeID, bool)
}
