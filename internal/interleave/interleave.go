// Package interleave implements C2b: the interleaving analysis that
// tracks, for every CxtThreadStmt, the set of thread ids that may be
// alive there, and answers may-happen-in-parallel queries over it.
package interleave

import (
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"valueflow/internal/cctx"
	"valueflow/internal/forkjoin"
	"valueflow/internal/oracle"
)

// Stats counts queries served by an Engine, grounded on the reference
// interleaving analysis's numOfTotalQueries/numOfMHPQueries counters.
type Stats struct {
	totalQueries int64
	mhpQueries   int64
}

func (s *Stats) incTotal() { atomic.AddInt64(&s.totalQueries, 1) }
func (s *Stats) incMHP()   { atomic.AddInt64(&s.mhpQueries, 1) }

// TotalQueries returns how many queries of any kind were served.
func (s *Stats) TotalQueries() int64 { return atomic.LoadInt64(&s.totalQueries) }

// MHPQueries returns how many MayHappenInParallel queries were served.
func (s *Stats) MHPQueries() int64 { return atomic.LoadInt64(&s.mhpQueries) }

type unorderedPair struct{ a, b cctx.NodeID }

func newUnorderedPair(a, b cctx.NodeID) unorderedPair {
	if a > b {
		a, b = b, a
	}
	return unorderedPair{a: a, b: b}
}

// Engine runs the C2b fixpoint: one thread-id set per CxtThreadStmt, a
// reverse ICFG-node index, and a memoized MHP query cache.
type Engine struct {
	icfg oracle.ICFG
	tct  oracle.TCT
	fj   *forkjoin.Engine

	interleav map[string]map[cctx.ThreadID]struct{}
	cxtOf     map[string]cctx.CxtThreadStmt
	instToCTS map[cctx.NodeID][]string

	nonCandidate map[cctx.FuncID]bool

	mhpCache map[unorderedPair]bool

	stats Stats
}

// New builds an Engine over the given oracles and a forkjoin.Engine
// already run to quiescence for every thread in the TCT.
func New(icfg oracle.ICFG, tct oracle.TCT, fj *forkjoin.Engine) *Engine {
	return &Engine{
		icfg:         icfg,
		tct:          tct,
		fj:           fj,
		interleav:    map[string]map[cctx.ThreadID]struct{}{},
		cxtOf:        map[string]cctx.CxtThreadStmt{},
		instToCTS:    map[cctx.NodeID][]string{},
		nonCandidate: map[cctx.FuncID]bool{},
		mhpCache:     map[unorderedPair]bool{},
	}
}

// MarkNonCandidate records f as unreachable from any thread entry via
// forkable edges — its interleaving will be copied from entry to every
// node in one pass instead of being worklist-processed.
func (e *Engine) MarkNonCandidate(f cctx.FuncID) { e.nonCandidate[f] = true }

func (e *Engine) key(cts cctx.CxtThreadStmt) string { return cts.Key() }

func (e *Engine) get(cts cctx.CxtThreadStmt) map[cctx.ThreadID]struct{} {
	return e.interleav[e.key(cts)]
}

func (e *Engine) index(cts cctx.CxtThreadStmt) {
	k := e.key(cts)
	e.cxtOf[k] = cts
	for _, existing := range e.instToCTS[cts.Stmt] {
		if existing == k {
			return
		}
	}
	e.instToCTS[cts.Stmt] = append(e.instToCTS[cts.Stmt], k)
}

// merge unions add into cts's interleaving set and returns whether it
// grew — the worklist-enqueue decision. Growth is the only kind of
// update here (besides must-join removal), so the fixpoint is monotone
// over a finite universe of thread ids.
func (e *Engine) merge(cts cctx.CxtThreadStmt, add map[cctx.ThreadID]struct{}) bool {
	k := e.key(cts)
	set, ok := e.interleav[k]
	if !ok {
		set = map[cctx.ThreadID]struct{}{}
		e.interleav[k] = set
	}
	e.index(cts)
	grew := false
	for t := range add {
		if _, already := set[t]; !already {
			set[t] = struct{}{}
			grew = true
			// Growing a set invalidates any cached MHP result that
			// might flip false->true.
			e.invalidateCacheFor(t)
		}
	}
	return grew
}

func (e *Engine) invalidateCacheFor(cctx.ThreadID) {
	// The cache only ever needs to move false->true, and a stale false
	// is always safely recomputed on next query; nothing to evict here
	// beyond never trusting a cached false across further growth.
	e.mhpCache = map[unorderedPair]bool{}
}

// Seed enqueues (empty-context, t, entry(start_routine(t))) with
// interleav={t} for every thread in the TCT, and
// runs the fixpoint. cfg.Ancestors, cfg.Siblings and cfg.IsMultiForked
// give the TCT-derived relations the fork transfer function needs; the
// forkjoin engine's HB/HP answer ¬HB(s,t)∨HP(s,t) for a sibling pair.
func (e *Engine) Seed(threads []cctx.ThreadID, cfg Config) {
	var worklist []cctx.CxtThreadStmt
	for _, t := range threads {
		startFn := e.tct.StartRoutine(t)
		cts := cctx.CxtThreadStmt{Cxt: cctx.NewCallingContext(cfg.K), Tid: t, Stmt: e.icfg.Entry(startFn)}
		e.merge(cts, map[cctx.ThreadID]struct{}{t: {}})
		worklist = append(worklist, cts)
	}

	for len(worklist) > 0 {
		cts := worklist[0]
		worklist = worklist[1:]
		e.step(cts, cfg, &worklist)
	}

	for f := range e.nonCandidate {
		e.propagateNonCandidate(f, cfg)
	}
}

// Config carries the TCT-derived predicates the fork/join transfer
// functions need, decoupled from a live oracle.TCT so tests can supply
// fixed relations directly.
type Config struct {
	K int

	// Ancestors returns t's ancestor thread ids, nearest first.
	Ancestors func(t cctx.ThreadID) []cctx.ThreadID
	// Siblings returns t's sibling thread ids (other children of the
	// same parent).
	Siblings func(t cctx.ThreadID) []cctx.ThreadID
	// IsMultiForked reports whether t may have more than one live
	// incarnation.
	IsMultiForked func(t cctx.ThreadID) bool
}

func (e *Engine) step(cts cctx.CxtThreadStmt, cfg Config, worklist *[]cctx.CxtThreadStmt) {
	set := e.get(cts)

	if e.icfg.IsJoin(cts.Stmt) {
		e.handleJoin(cts, set, cfg, worklist)
		return
	}
	if e.icfg.IsFork(cts.Stmt) {
		e.handleFork(cts, set, cfg, worklist)
		return
	}
	if e.icfg.IsCall(cts.Stmt) {
		for _, callee := range e.icfg.Callees(cts.Stmt) {
			entry := cctx.CxtThreadStmt{
				Cxt:  e.tct.PushCxt(cts.Cxt, cts.Stmt, callee),
				Tid:  cts.Tid,
				Stmt: e.icfg.Entry(callee),
			}
			if e.merge(entry, set) && !e.nonCandidate[callee] {
				*worklist = append(*worklist, entry)
			}
		}
		return
	}
	e.propagate(cts, set, worklist)
}

func (e *Engine) propagate(cts cctx.CxtThreadStmt, set map[cctx.ThreadID]struct{}, worklist *[]cctx.CxtThreadStmt) {
	for _, succ := range e.icfg.Successors(cts.Stmt) {
		next := cctx.CxtThreadStmt{Cxt: cts.Cxt, Tid: cts.Tid, Stmt: succ}
		if e.merge(next, set) {
			*worklist = append(*worklist, next)
		}
	}
}

func (e *Engine) handleFork(cts cctx.CxtThreadStmt, set map[cctx.ThreadID]struct{}, cfg Config, worklist *[]cctx.CxtThreadStmt) {
	childHandle := e.icfg.ForkedThreadValue(cts.Stmt)
	tChild := cctx.ThreadID(childHandle)

	add := map[cctx.ThreadID]struct{}{}
	for t := range set {
		add[t] = struct{}{}
	}
	add[tChild] = struct{}{}

	if cfg.Ancestors != nil {
		for _, ta := range cfg.Ancestors(cts.Tid) {
			if cfg.IsMultiForked != nil && cfg.IsMultiForked(ta) {
				add[ta] = struct{}{}
			}
		}
	}
	if cfg.Siblings != nil {
		for _, ts := range cfg.Siblings(cts.Tid) {
			if !e.fj.HB(ts, cts.Tid) || e.fj.HP(ts, cts.Tid) {
				add[ts] = struct{}{}
			}
		}
	}

	for _, succ := range e.icfg.Successors(cts.Stmt) {
		next := cctx.CxtThreadStmt{Cxt: cts.Cxt, Tid: cts.Tid, Stmt: succ}
		if e.merge(next, add) {
			*worklist = append(*worklist, next)
		}
	}
}

func (e *Engine) handleJoin(cts cctx.CxtThreadStmt, set map[cctx.ThreadID]struct{}, cfg Config, worklist *[]cctx.CxtThreadStmt) {
	csKey := cctx.CxtStmt{Cxt: cts.Cxt, Stmt: cts.Stmt}
	joined := e.fj.ClosedJoinedTIDs(csKey)

	mustJoined := map[cctx.ThreadID]struct{}{}
	for _, t := range joined {
		if e.isMustJoin(cts.Tid, csKey, t) {
			mustJoined[t] = struct{}{}
		}
	}

	next := map[cctx.ThreadID]struct{}{}
	for t := range set {
		if _, removed := mustJoined[t]; removed {
			continue
		}
		next[t] = struct{}{}
	}

	for _, succ := range e.icfg.Successors(cts.Stmt) {
		s := cctx.CxtThreadStmt{Cxt: cts.Cxt, Tid: cts.Tid, Stmt: succ}
		if e.mergeExact(s, next) {
			*worklist = append(*worklist, s)
		}
	}
}

// mergeExact unions next — interleav[cts] minus must_joined, as computed
// by handleJoin — into the join-site successor's set and reports whether
// it changed. Ids that a prior visit or another predecessor already left
// in the successor's set are kept; the must-join removal applies only to
// what flows through this join site.
func (e *Engine) mergeExact(cts cctx.CxtThreadStmt, next map[cctx.ThreadID]struct{}) bool {
	k := e.key(cts)
	cur, ok := e.interleav[k]
	e.index(cts)
	if ok && sameSet(cur, next) {
		return false
	}
	merged := map[cctx.ThreadID]struct{}{}
	for t := range cur {
		merged[t] = struct{}{}
	}
	for t := range next {
		merged[t] = struct{}{}
	}
	if ok && sameSet(cur, merged) {
		return false
	}
	e.interleav[k] = merged
	e.mhpCache = map[unorderedPair]bool{}
	return true
}

func sameSet(a, b map[cctx.ThreadID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}

// isMustJoin reports whether thread t' is definitely dead after the join
// at cs from the perspective of thread tid:
// t' must be in the directly+indirectly joined set, the join must not
// sit in an asymmetric loop, and the alias/SCEV predicate from C2a must
// hold — which JoinInLoop/ClosedJoinedTIDs already gate by construction.
func (e *Engine) isMustJoin(tid cctx.ThreadID, cs cctx.CxtStmt, tPrime cctx.ThreadID) bool {
	_ = tid
	if e.fj.JoinInLoop(cs) {
		// A recorded symmetric-loop join is safe to treat as a
		// must-join; an asymmetric loop join never reaches this
		// classification because C2a only records a loop-join for
		// the alias+SCEV-confirmed symmetric pattern.
		return true
	}
	for _, t := range e.fj.ClosedJoinedTIDs(cs) {
		if t == tPrime {
			return true
		}
	}
	return false
}

func (e *Engine) propagateNonCandidate(f cctx.FuncID, cfg Config) {
	entry := e.icfg.Entry(f)
	entryCTSs := e.instToCTS[entry]
	if len(entryCTSs) == 0 {
		return
	}
	visited := map[cctx.NodeID]bool{}
	var walk func(n cctx.NodeID)
	walk = func(n cctx.NodeID) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, key := range entryCTSs {
			src := e.cxtOf[key]
			dst := cctx.CxtThreadStmt{Cxt: src.Cxt, Tid: src.Tid, Stmt: n}
			e.merge(dst, e.interleav[key])
		}
		for _, succ := range e.icfg.Successors(n) {
			walk(succ)
		}
	}
	walk(entry)
}

// MayHappenInParallel reports whether i1 and i2 may execute
// concurrently: some CxtThreadStmt over i1 carries a thread id that
// owns some CxtThreadStmt over i2, or symmetrically.
// Memoized by unordered (i1,i2) pair.
func (e *Engine) MayHappenInParallel(i1, i2 cctx.NodeID) bool {
	e.stats.incTotal()
	e.stats.incMHP()
	key := newUnorderedPair(i1, i2)
	if v, ok := e.mhpCache[key]; ok {
		return v
	}
	result := e.computeMHP(i1, i2)
	e.mhpCache[key] = result
	return result
}

func (e *Engine) computeMHP(i1, i2 cctx.NodeID) bool {
	tids2 := map[cctx.ThreadID]struct{}{}
	for _, k := range e.instToCTS[i2] {
		tids2[e.cxtOf[k].Tid] = struct{}{}
	}
	for _, k1 := range e.instToCTS[i1] {
		for t := range e.get(e.cxtOf[k1]) {
			if _, ok := tids2[t]; ok {
				return true
			}
		}
	}
	tids1 := map[cctx.ThreadID]struct{}{}
	for _, k := range e.instToCTS[i1] {
		tids1[e.cxtOf[k].Tid] = struct{}{}
	}
	for _, k2 := range e.instToCTS[i2] {
		for t := range e.get(e.cxtOf[k2]) {
			if _, ok := tids1[t]; ok {
				return true
			}
		}
	}
	return false
}

// ExecutedBySameThread reports whether i1 and i2 have been observed
// under a common thread id.
func (e *Engine) ExecutedBySameThread(i1, i2 cctx.NodeID) bool {
	e.stats.incTotal()
	tids1 := map[cctx.ThreadID]struct{}{}
	for _, k := range e.instToCTS[i1] {
		tids1[e.cxtOf[k].Tid] = struct{}{}
	}
	for _, k := range e.instToCTS[i2] {
		if _, ok := tids1[e.cxtOf[k].Tid]; ok {
			return true
		}
	}
	return false
}

// Stats returns the engine's query counters.
func (e *Engine) Stats() *Stats { return &e.stats }

// sortedThreadIDs returns ids in ascending order, used wherever this
// package exposes an interleaving set externally.
func sortedThreadIDs(set map[cctx.ThreadID]struct{}) []cctx.ThreadID {
	out := maps.Keys(set)
	slices.Sort(out)
	return out
}

// Interleaving returns the current thread-id set at cts, sorted.
func (e *Engine) Interleaving(cts cctx.CxtThreadStmt) []cctx.ThreadID {
	return sortedThreadIDs(e.get(cts))
}
