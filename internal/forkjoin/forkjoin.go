// Package forkjoin implements C2a: the fork/join flag analysis that seeds
// one forward, context-sensitive ICFG traversal per forked thread and
// tracks whether that thread may still be alive at each program point
//.
package forkjoin

import (
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"valueflow/internal/cctx"
	"valueflow/internal/oracle"
)

// Flag is the fork/join liveness lattice {Empty < Dead < Alive}, Empty is
// ⊥ and Alive is ⊤.
type Flag uint8

const (
	Empty Flag = iota
	Dead
	Alive
)

func (f Flag) String() string {
	switch f {
	case Empty:
		return "empty"
	case Dead:
		return "dead"
	case Alive:
		return "alive"
	default:
		return "unknown"
	}
}

// Join returns f ⊔ other: Alive wins if either side keeps the thread
// live, otherwise Dead wins over Empty.
func (f Flag) Join(other Flag) Flag {
	if f > other {
		return f
	}
	return other
}

// Stats counts queries served by an Engine, grounded on the reference
// fork/join analysis's numOfTotalQueries/numOfMHPQueries counters.
type Stats struct {
	totalQueries int64
	directJoins  int64
}

func (s *Stats) incQuery()      { atomic.AddInt64(&s.totalQueries, 1) }
func (s *Stats) incDirectJoin() { atomic.AddInt64(&s.directJoins, 1) }

// TotalQueries returns how many times a result was queried.
func (s *Stats) TotalQueries() int64 { return atomic.LoadInt64(&s.totalQueries) }

// DirectJoins returns how many direct-join transitions were recorded.
func (s *Stats) DirectJoins() int64 { return atomic.LoadInt64(&s.directJoins) }

type threadPair struct{ parent, child cctx.ThreadID }

// Engine runs the C2a fixpoint for a single thread id at a time and
// accumulates the classification relations HB/HP/full_join/partial_join
// across every thread it has been run for.
type Engine struct {
	icfg  oracle.ICFG
	alias oracle.PointerAnalysis
	scev  oracle.ScalarEvolution
	tct   oracle.TCT

	flag       map[string]Flag
	cxtOf      map[string]cctx.CxtStmt
	directJoin map[string]map[cctx.ThreadID]struct{}
	joinInLoop map[string]bool

	hb          map[threadPair]struct{}
	hp          map[threadPair]struct{}
	fullJoin    map[threadPair]struct{}
	partialJoin map[threadPair]struct{}

	stats Stats
}

// New builds an Engine over the given oracles.
func New(icfg oracle.ICFG, alias oracle.PointerAnalysis, scev oracle.ScalarEvolution, tct oracle.TCT) *Engine {
	return &Engine{
		icfg:        icfg,
		alias:       alias,
		scev:        scev,
		tct:         tct,
		flag:        map[string]Flag{},
		cxtOf:       map[string]cctx.CxtStmt{},
		directJoin:  map[string]map[cctx.ThreadID]struct{}{},
		joinInLoop:  map[string]bool{},
		hb:          map[threadPair]struct{}{},
		hp:          map[threadPair]struct{}{},
		fullJoin:    map[threadPair]struct{}{},
		partialJoin: map[threadPair]struct{}{},
	}
}

// Stats returns the engine's query counters.
func (e *Engine) Stats() *Stats { return &e.stats }

func (e *Engine) get(cs cctx.CxtStmt) Flag { return e.flag[cs.Key()] }

func (e *Engine) set(cs cctx.CxtStmt, f Flag) {
	e.flag[cs.Key()] = f
	e.cxtOf[cs.Key()] = cs
}

// merge joins incoming into cs's current flag and returns whether the
// flag changed — the worklist-enqueue decision.
func (e *Engine) merge(cs cctx.CxtStmt, incoming Flag) bool {
	cur := e.get(cs)
	next := cur.Join(incoming)
	if next == cur {
		return false
	}
	e.set(cs, next)
	return true
}

// Run seeds the fork site of thread t with Alive and runs the forward
// traversal to quiescence. parentExit is the CxtStmt at the
// exit of t's parent's start routine, against which HB/HP and
// full_join/partial_join are finally classified; parentTID is t's
// forking parent.
func (e *Engine) Run(t cctx.ThreadID, forkCS cctx.CxtStmt, parentTID cctx.ThreadID, parentExit cctx.CxtStmt) {
	e.set(forkCS, Alive)
	worklist := []cctx.CxtStmt{forkCS}

	for len(worklist) > 0 {
		cs := worklist[0]
		worklist = worklist[1:]
		flag := e.get(cs)

		if e.icfg.IsJoin(cs.Stmt) {
			if e.joinsThread(cs, t, forkCS) {
				if flag != Dead {
					e.set(cs, Dead)
					worklist = append(worklist, cs)
				}
				e.recordDirectJoin(cs, t)
				if _, ok := e.scev.JoinLoop(cs.Stmt); ok {
					e.joinInLoop[cs.Key()] = true
				}
				e.propagateSuccessors(cs, Dead, t, &worklist)
				continue
			}
		}

		if e.icfg.IsFork(cs.Stmt) {
			// Fork-inside-fork is seeded independently per spawned
			// thread; this traversal only carries flag through.
			e.propagateSuccessors(cs, flag, t, &worklist)
			continue
		}

		if e.icfg.IsCall(cs.Stmt) {
			for _, callee := range e.icfg.Callees(cs.Stmt) {
				entry := cctx.CxtStmt{Cxt: e.tct.PushCxt(cs.Cxt, cs.Stmt, callee), Stmt: e.icfg.Entry(callee)}
				if e.merge(entry, flag) {
					worklist = append(worklist, entry)
				}
			}
			continue
		}

		e.propagateSuccessors(cs, flag, t, &worklist)
	}

	e.classifyParentExit(parentTID, t, parentExit)
}

func (e *Engine) propagateSuccessors(cs cctx.CxtStmt, flag Flag, t cctx.ThreadID, worklist *[]cctx.CxtStmt) {
	for _, succ := range e.icfg.Successors(cs.Stmt) {
		next := cctx.CxtStmt{Cxt: cs.Cxt, Stmt: succ}
		if e.merge(next, flag) {
			*worklist = append(*worklist, next)
		}
	}
}

// joinsThread reports whether the join at cs targets thread t, subject
// to the alias+SCEV symmetric-loop check: the
// joined handle must alias the forked handle, and if the join sits in a
// loop, that loop must have the same trip count as the fork's (the
// symmetric-loop pattern) or the join is treated as possibly not joining
// t — conservative, never a definite non-join.
func (e *Engine) joinsThread(cs cctx.CxtStmt, t cctx.ThreadID, forkCS cctx.CxtStmt) bool {
	handle := e.icfg.JoinedThreadValue(cs.Stmt)
	forkedHandle := uint32(t)
	if !e.alias.Alias(handle, forkedHandle) {
		return false
	}
	if _, inLoop := e.scev.JoinLoop(cs.Stmt); inLoop {
		if !e.scev.SameSCEV(forkCS.Stmt, cs.Stmt) {
			return false
		}
	}
	return true
}

func (e *Engine) recordDirectJoin(cs cctx.CxtStmt, t cctx.ThreadID) {
	set, ok := e.directJoin[cs.Key()]
	if !ok {
		set = map[cctx.ThreadID]struct{}{}
		e.directJoin[cs.Key()] = set
	}
	if _, already := set[t]; !already {
		set[t] = struct{}{}
		e.cxtOf[cs.Key()] = cs
		e.stats.incDirectJoin()
	}
}

// DirectJoin returns the set of thread ids that transition to Dead at
// the join CxtStmt cs.
func (e *Engine) DirectJoin(cs cctx.CxtStmt) []cctx.ThreadID {
	e.stats.incQuery()
	set, ok := e.directJoin[cs.Key()]
	if !ok {
		return nil
	}
	out := maps.Keys(set)
	slices.Sort(out)
	return out
}

// ClosedJoinedTIDs returns the transitive closure of cs's direct_join
// set under full_join
// then add t''").
func (e *Engine) ClosedJoinedTIDs(cs cctx.CxtStmt) []cctx.ThreadID {
	e.stats.incQuery()
	seen := map[cctx.ThreadID]struct{}{}
	var queue []cctx.ThreadID
	for t := range e.directJoin[cs.Key()] {
		seen[t] = struct{}{}
		queue = append(queue, t)
	}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for pair := range e.fullJoin {
			if pair.parent != t {
				continue
			}
			if _, already := seen[pair.child]; already {
				continue
			}
			seen[pair.child] = struct{}{}
			queue = append(queue, pair.child)
		}
	}
	out := maps.Keys(seen)
	slices.Sort(out)
	return out
}

// JoinInLoop reports whether cs was recorded as a symmetric-loop join
// (cxt_join_in_loop).
func (e *Engine) JoinInLoop(cs cctx.CxtStmt) bool { return e.joinInLoop[cs.Key()] }

func (e *Engine) classifyParentExit(parentTID, t cctx.ThreadID, parentExit cctx.CxtStmt) {
	pair := threadPair{parent: parentTID, child: t}
	if e.get(parentExit) == Alive {
		e.hp[pair] = struct{}{}
		e.partialJoin[pair] = struct{}{}
		return
	}
	e.hb[pair] = struct{}{}
	e.fullJoin[pair] = struct{}{}
}

// HB reports whether parent happens-before t (t was dead by the time the
// parent's start routine returned, on every path).
func (e *Engine) HB(parent, t cctx.ThreadID) bool {
	e.stats.incQuery()
	_, ok := e.hb[threadPair{parent: parent, child: t}]
	return ok
}

// HP reports whether parent and t may happen in parallel at the parent's
// return (t still alive on some path). HP insertion never retracts a
// stale HB entry for the same pair recorded by an earlier run — the
// mechanism that makes HP win over HB when both are ever recorded.
func (e *Engine) HP(parent, t cctx.ThreadID) bool {
	e.stats.incQuery()
	_, ok := e.hp[threadPair{parent: parent, child: t}]
	return ok
}

// IsHBPair reports the final classification: HP wins over HB whenever
// both were ever recorded for the pair.
func (e *Engine) IsHBPair(parent, t cctx.ThreadID) bool {
	if e.HP(parent, t) {
		return false
	}
	return e.HB(parent, t)
}

// FullJoin reports whether parent's start routine is Dead for t on every
// incoming path at exit.
func (e *Engine) FullJoin(parent, t cctx.ThreadID) bool {
	e.stats.incQuery()
	_, ok := e.fullJoin[threadPair{parent: parent, child: t}]
	return ok
}

// PartialJoin reports the complement of FullJoin for a pair that was
// actually analyzed.
func (e *Engine) PartialJoin(parent, t cctx.ThreadID) bool {
	e.stats.incQuery()
	_, ok := e.partialJoin[threadPair{parent: parent, child: t}]
	return ok
}
