// Package driver wires the Abstract State / lattice operations (C1) and
// the fork/join + interleaving analyses (C2) together behind a fixpoint
// contract: join at merges, widen after a bounded number of loop-header
// iterations, narrow to convergence.
package driver

import (
	"valueflow/internal/cctx"
	"valueflow/internal/config"
	"valueflow/internal/diag"
	"valueflow/internal/forkjoin"
	"valueflow/internal/interleave"
	"valueflow/internal/oracle"
	"valueflow/internal/state"
)

// LoopHeader tracks how many times a CxtStmt at a loop header has been
// reached during the join-only phase, so the driver knows when to switch
// to widening.
type LoopHeader struct {
	WidenAfter int
	visits     map[string]int
	widening   map[string]bool
}

// NewLoopHeader returns tracking state that switches to widening after
// widenAfter visits to the same CxtStmt.
func NewLoopHeader(widenAfter int) *LoopHeader {
	if widenAfter < 1 {
		widenAfter = 1
	}
	return &LoopHeader{WidenAfter: widenAfter, visits: map[string]int{}, widening: map[string]bool{}}
}

// Advance records one more visit to cs and reports whether this
// iteration should widen (true) or join (false) against the prior
// iterate.
func (l *LoopHeader) Advance(cs cctx.CxtStmt) bool {
	k := cs.Key()
	if l.widening[k] {
		return true
	}
	l.visits[k]++
	if l.visits[k] > l.WidenAfter {
		l.widening[k] = true
		return true
	}
	return false
}

// Driver owns the global Abstract State and the C2 engines, and runs the
// per-CxtStmt combine step the surrounding fixpoint loop calls on every
// join point.
type Driver struct {
	Global *state.State
	Logger *diag.Logger
	Mc     *diag.MismatchCounter

	ForkJoin   *forkjoin.Engine
	Interleave *interleave.Engine

	cfg *config.Config
}

// New constructs a Driver. logger may be nil (silent).
func New(cfg *config.Config, icfg oracle.ICFG, alias oracle.PointerAnalysis, scev oracle.ScalarEvolution, tct oracle.TCT, logger *diag.Logger) *Driver {
	fj := forkjoin.New(icfg, alias, scev, tct)
	return &Driver{
		Global:     state.New(),
		Logger:     logger,
		Mc:         &diag.MismatchCounter{},
		ForkJoin:   fj,
		Interleave: interleave.New(icfg, tct, fj),
		cfg:        cfg,
	}
}

// Combine applies the combine rule at a control merge: before a loop
// header has exceeded its widen threshold, combine via join; after, via
// widen. prev is the CxtStmt's existing state (nil if unseen), incoming
// is the freshly computed transfer-function result.
func (d *Driver) Combine(lh *LoopHeader, cs cctx.CxtStmt, prev, incoming *state.State) *state.State {
	if prev == nil {
		return incoming
	}
	if lh != nil && lh.Advance(cs) {
		widened := prev.WidenWith(incoming, d.Mc)
		d.Logger.Printf("widen at %s\n", cs.String())
		return widened
	}
	return prev.JoinWith(incoming, d.Mc)
}

// Narrow applies one narrowing pass. The caller is
// responsible for iterating until Narrow returns a state Equals to prev
// — that is the documented "terminate when narrow step is no-op"
// condition.
func (d *Driver) Narrow(prev, incoming *state.State) *state.State {
	return prev.NarrowWith(incoming, d.Mc)
}

// RunForkJoin runs C2a for one forked thread id, per the contract
// forkjoin.Engine.Run already documents.
func (d *Driver) RunForkJoin(t cctx.ThreadID, forkCS cctx.CxtStmt, parentTID cctx.ThreadID, parentExit cctx.CxtStmt) {
	d.ForkJoin.Run(t, forkCS, parentTID, parentExit)
}

// RunInterleave seeds and runs C2b across every thread in threads, once
// every relevant forkjoin.Run call has completed.
func (d *Driver) RunInterleave(threads []cctx.ThreadID, icCfg interleave.Config) {
	d.Interleave.Seed(threads, icCfg)
}
