package forkjoin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valueflow/internal/cctx"
	"valueflow/internal/tct"
)

// fakeICFG is a tiny linear-plus-join graph used to exercise the
// fork/join transfer functions without a real ICFG implementation.
type fakeICFG struct {
	succ       map[cctx.NodeID][]cctx.NodeID
	joinNodes  map[cctx.NodeID]bool
	forkNodes  map[cctx.NodeID]bool
	joinHandle map[cctx.NodeID]uint32
}

func (f *fakeICFG) Entry(cctx.FuncID) cctx.NodeID       { return 0 }
func (f *fakeICFG) Exit(cctx.FuncID) cctx.NodeID        { return 0 }
func (f *fakeICFG) Successors(n cctx.NodeID) []cctx.NodeID { return f.succ[n] }
func (f *fakeICFG) IsCall(cctx.NodeID) bool             { return false }
func (f *fakeICFG) Callees(cctx.NodeID) []cctx.FuncID   { return nil }
func (f *fakeICFG) IsFork(n cctx.NodeID) bool           { return f.forkNodes[n] }
func (f *fakeICFG) IsJoin(n cctx.NodeID) bool           { return f.joinNodes[n] }
func (f *fakeICFG) ForkedThreadValue(cctx.NodeID) uint32 { return 0 }
func (f *fakeICFG) JoinedThreadValue(n cctx.NodeID) uint32 {
	return f.joinHandle[n]
}

type alwaysAlias struct{ answer bool }

func (a alwaysAlias) Alias(uint32, uint32) bool { return a.answer }

type noLoopSCEV struct{}

func (noLoopSCEV) SameSCEV(_, _ cctx.NodeID) bool       { return true }
func (noLoopSCEV) SameTripCount(_, _ cctx.NodeID) bool  { return true }
func (noLoopSCEV) JoinLoop(cctx.NodeID) (cctx.NodeID, bool) { return 0, false }

// Linear graph: 1(fork) -> 2 -> 3(join) -> 4. Thread handle 100 is
// forked at node 1 and joined at node 3.
func linearForkJoinGraph() *fakeICFG {
	return &fakeICFG{
		succ: map[cctx.NodeID][]cctx.NodeID{
			1: {2},
			2: {3},
			3: {4},
		},
		forkNodes:  map[cctx.NodeID]bool{1: true},
		joinNodes:  map[cctx.NodeID]bool{3: true},
		joinHandle: map[cctx.NodeID]uint32{3: 100},
	}
}

func TestDirectJoinTransitionsThreadToDead(t *testing.T) {
	icfg := linearForkJoinGraph()
	tr := tct.New(2)
	e := New(icfg, alwaysAlias{answer: true}, noLoopSCEV{}, tr)

	forkCS := cctx.CxtStmt{Stmt: 1}
	joinCS := cctx.CxtStmt{Stmt: 3}
	exitCS := cctx.CxtStmt{Stmt: 4}

	e.Run(cctx.ThreadID(100), forkCS, cctx.ThreadID(1), exitCS)

	assert.Equal(t, Dead, e.get(joinCS))
	joined := e.DirectJoin(joinCS)
	require.Len(t, joined, 1)
	assert.Equal(t, cctx.ThreadID(100), joined[0])
}

func TestUnaliasedJoinLeavesThreadAlive(t *testing.T) {
	icfg := linearForkJoinGraph()
	tr := tct.New(2)
	e := New(icfg, alwaysAlias{answer: false}, noLoopSCEV{}, tr)

	forkCS := cctx.CxtStmt{Stmt: 1}
	joinCS := cctx.CxtStmt{Stmt: 3}
	exitCS := cctx.CxtStmt{Stmt: 4}

	e.Run(cctx.ThreadID(100), forkCS, cctx.ThreadID(1), exitCS)

	assert.Equal(t, Alive, e.get(joinCS))
	assert.Empty(t, e.DirectJoin(joinCS))
}

func TestFullJoinClassifiesHBWhenDeadAtExit(t *testing.T) {
	icfg := linearForkJoinGraph()
	tr := tct.New(2)
	e := New(icfg, alwaysAlias{answer: true}, noLoopSCEV{}, tr)

	forkCS := cctx.CxtStmt{Stmt: 1}
	exitCS := cctx.CxtStmt{Stmt: 4}
	e.Run(cctx.ThreadID(100), forkCS, cctx.ThreadID(1), exitCS)

	assert.True(t, e.FullJoin(1, 100))
	assert.True(t, e.HB(1, 100))
	assert.False(t, e.HP(1, 100))
	assert.True(t, e.IsHBPair(1, 100))
}

func TestPartialJoinClassifiesHPWhenAliveAtExit(t *testing.T) {
	icfg := linearForkJoinGraph()
	tr := tct.New(2)
	e := New(icfg, alwaysAlias{answer: false}, noLoopSCEV{}, tr)

	forkCS := cctx.CxtStmt{Stmt: 1}
	exitCS := cctx.CxtStmt{Stmt: 4}
	e.Run(cctx.ThreadID(100), forkCS, cctx.ThreadID(1), exitCS)

	assert.True(t, e.PartialJoin(1, 100))
	assert.True(t, e.HP(1, 100))
	assert.False(t, e.IsHBPair(1, 100), "HP must win over HB when both could apply")
}

func TestFlagJoinAliveWins(t *testing.T) {
	assert.Equal(t, Alive, Dead.Join(Alive))
	assert.Equal(t, Alive, Alive.Join(Dead))
	assert.Equal(t, Dead, Dead.Join(Empty))
	assert.Equal(t, Empty, Empty.Join(Empty))
}

func TestClosedJoinedTIDsTransitiveClosure(t *testing.T) {
	icfg := linearForkJoinGraph()
	tr := tct.New(2)
	e := New(icfg, alwaysAlias{answer: true}, noLoopSCEV{}, tr)

	forkCS := cctx.CxtStmt{Stmt: 1}
	joinCS := cctx.CxtStmt{Stmt: 3}
	exitCS := cctx.CxtStmt{Stmt: 4}
	e.Run(cctx.ThreadID(100), forkCS, cctx.ThreadID(1), exitCS)

	// Simulate a second, already-analyzed thread 200 that thread 100
	// fully joins, to exercise the closure step directly.
	e.fullJoin[threadPair{parent: 100, child: 200}] = struct{}{}

	closed := e.ClosedJoinedTIDs(joinCS)
	assert.ElementsMatch(t, []cctx.ThreadID{100, 200}, closed)
}
