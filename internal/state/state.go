// Package state implements the Abstract State (C1): a pair of maps from
// variable/object id to avalue.Value, plus a distinguished Global state
// that every State reads through on a local-lookup miss.
package state

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"valueflow/internal/avalue"
	"valueflow/internal/diag"
)

// State is the per-program-point abstract state: a local variable map V
// and a memory map M. Build one with New: the zero value has nil maps, so
// any write to it panics.
type State struct {
	v map[uint32]avalue.Value
	m map[uint32]avalue.Value
}

// New returns an empty State.
func New() *State {
	return &State{v: map[uint32]avalue.Value{}, m: map[uint32]avalue.Value{}}
}

// clone is a private deep copy used by every non-mutating combinator.
func (s *State) clone() *State {
	out := New()
	for k, v := range s.v {
		out.v[k] = v
	}
	for k, v := range s.m {
		out.m[k] = v
	}
	return out
}

// LookupVar reads a variable, cascading to g on a local miss. g may be nil, in which case a miss returns
// avalue.Value{} (an interval-kind [0, 0], not ⊥) and false.
func (s *State) LookupVar(id uint32, g *State) (avalue.Value, bool) {
	if v, ok := s.v[id]; ok {
		return v, true
	}
	if g != nil {
		if v, ok := g.v[id]; ok {
			return v, true
		}
	}
	return avalue.Value{}, false
}

// SetVar writes a variable into the local map.
func (s *State) SetVar(id uint32, v avalue.Value) { s.v[id] = v }

// CopyGlobalToLocal copies g's binding for id into s's local map, if g
// has one and s does not already (a no-op if id is already local).
func (s *State) CopyGlobalToLocal(id uint32, g *State) {
	if _, local := s.v[id]; local {
		return
	}
	if g == nil {
		return
	}
	if v, ok := g.v[id]; ok {
		s.v[id] = v
	}
}

// Load reads the value stored at virtual address addr, cascading to g's
// memory map on a local miss the way LookupVar/CopyGlobalToLocal do. g
// may be nil. An address absent from both maps is unmapped, not
// unreachable: it inserts and returns ⊤ into g's map (or s's, if g is
// nil) — loads must never get stuck on missing oracle data.
func (s *State) Load(addr uint32, g *State) avalue.Value {
	objID := avalue.InternalID(addr)
	if v, ok := s.m[objID]; ok {
		return v
	}
	if g != nil {
		if v, ok := g.m[objID]; ok {
			return v
		}
	}
	top := avalue.FromInterval(avalue.TopInterval())
	if g != nil {
		g.m[objID] = top
	} else {
		s.m[objID] = top
	}
	return top
}

// Store writes val at virtual address addr. A null address is a no-op.
// Store panics via diag.Fatalf if addr is not encoded as a virtual
// address — that is an invariant violation, not recoverable input.
func (s *State) Store(addr uint32, val avalue.Value) {
	if !avalue.IsVirtualAddress(addr) {
		diag.Fatalf("state: store to non-virtual address %#x", addr)
	}
	if avalue.IsNull(addr) {
		return
	}
	s.m[avalue.InternalID(addr)] = val
}

// HasBottom reports whether any binding in either map is ⊥ — the state
// as a whole is unreachable.
func (s *State) HasBottom() bool {
	for _, v := range s.v {
		if v.IsBottom() {
			return true
		}
	}
	for _, v := range s.m {
		if v.IsBottom() {
			return true
		}
	}
	return false
}

// Slice returns a fresh State containing only the requested variable
// ids, each looked up through s.
func (s *State) Slice(ids []uint32) *State {
	out := New()
	for _, id := range ids {
		out.v[id] = s.v[id]
	}
	return out
}

// sortedKeys returns a map's keys in ascending order, for the
// deterministic iteration this core requires everywhere.
func sortedKeys(m map[uint32]avalue.Value) []uint32 {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// JoinWith returns s ⊔ other, pointwise over the union of keys; a key
// present in only one side is carried through unchanged (matching the
// original joinWith's "insert keys present only in other").
func (s *State) JoinWith(other *State, mc *diag.MismatchCounter) *State {
	return combine(s, other, mc, func(a, b avalue.Value, mc *diag.MismatchCounter) avalue.Value {
		return a.JoinWith(b, mc)
	}, true)
}

// MeetWith returns s ⊓ other. Keys present only in other are dropped —
// meet, narrow, and widen only touch keys already in the receiver — and a
// key present only in s is kept unchanged: it contributes nothing to the meet (conservatively
// treated as unconstrained there, i.e. ⊤, which meets away to the
// receiver's own value — equivalent to "keep the receiver's entry" here
// since we have no ⊤ sentinel per key).
func (s *State) MeetWith(other *State, mc *diag.MismatchCounter) *State {
	return combineReceiverKeys(s, other, mc, func(a, b avalue.Value, mc *diag.MismatchCounter) avalue.Value {
		return a.MeetWith(b, mc)
	})
}

// WidenWith returns s ▽ other, pointwise, only over keys already in s:
// other widens this.
func (s *State) WidenWith(other *State, mc *diag.MismatchCounter) *State {
	return combineReceiverKeys(s, other, mc, func(a, b avalue.Value, mc *diag.MismatchCounter) avalue.Value {
		return a.WidenWith(b, mc)
	})
}

// NarrowWith returns s △ other, pointwise, only over keys already in s.
func (s *State) NarrowWith(other *State, mc *diag.MismatchCounter) *State {
	return combineReceiverKeys(s, other, mc, func(a, b avalue.Value, mc *diag.MismatchCounter) avalue.Value {
		return a.NarrowWith(b, mc)
	})
}

type combiner func(a, b avalue.Value, mc *diag.MismatchCounter) avalue.Value

// combine applies f pointwise over the union of keys (join semantics).
func combine(s, other *State, mc *diag.MismatchCounter, f combiner, union bool) *State {
	out := New()
	combineMap(s.v, other.v, out.v, f, mc, union)
	combineMap(s.m, other.m, out.m, f, mc, union)
	return out
}

// combineReceiverKeys applies f only over keys already present in s.
func combineReceiverKeys(s, other *State, mc *diag.MismatchCounter, f combiner) *State {
	out := New()
	combineMapReceiverKeys(s.v, other.v, out.v, f, mc)
	combineMapReceiverKeys(s.m, other.m, out.m, f, mc)
	return out
}

func combineMap(a, b, out map[uint32]avalue.Value, f combiner, mc *diag.MismatchCounter, union bool) {
	for _, k := range sortedKeys(a) {
		av := a[k]
		if bv, ok := b[k]; ok {
			out[k] = f(av, bv, mc)
		} else if union {
			out[k] = av
		}
	}
	if union {
		for _, k := range sortedKeys(b) {
			if _, ok := a[k]; !ok {
				out[k] = b[k]
			}
		}
	}
}

func combineMapReceiverKeys(a, b, out map[uint32]avalue.Value, f combiner, mc *diag.MismatchCounter) {
	for _, k := range sortedKeys(a) {
		av := a[k]
		if bv, ok := b[k]; ok {
			out[k] = f(av, bv, mc)
		} else {
			out[k] = av
		}
	}
}

// Geq reports s ≥ other: s.v ≥ other.v and s.m ≥ other.m pointwise. An
// empty rhs is trivially ≥'d; a key in other missing from s fails the
// comparison.
func (s *State) Geq(other *State) bool {
	return geqMap(s.v, other.v) && geqMap(s.m, other.m)
}

func geqMap(lhs, rhs map[uint32]avalue.Value) bool {
	if len(rhs) == 0 {
		return true
	}
	for _, k := range sortedKeys(rhs) {
		rv := rhs[k]
		lv, ok := lhs[k]
		if !ok {
			return false
		}
		if !lv.Geq(rv) {
			return false
		}
	}
	return true
}

// Less reports s < other, defined exactly as the negation of Geq.
func (s *State) Less(other *State) bool { return !s.Geq(other) }

// Equals reports s == other: equal key sets, equal values pointwise.
func (s *State) Equals(other *State) bool {
	return eqMap(s.v, other.v) && eqMap(s.m, other.m)
}

func eqMap(a, b map[uint32]avalue.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equals(bv) {
			return false
		}
	}
	return true
}

// Hash folds both maps via h ^= hash(key) + 0x9e3779b9 + (h<<6) + (h>>2),
// over the variable map then the memory map in sorted key order for
// determinism, then pairs the two.
func (s *State) Hash() uint64 {
	return pairHash(hashMap(s.v), hashMap(s.m))
}

func hashMap(m map[uint32]avalue.Value) uint64 {
	var h uint64
	for _, k := range sortedKeys(m) {
		h = mix(h, uint64(k))
		h = mix(h, valueHash(m[k]))
	}
	return h
}

func valueHash(v avalue.Value) uint64 {
	if v.IsInterval() {
		iv := v.Interval()
		return mix(mix(uint64(v.Kind()), floatBits(iv.Lb())), floatBits(iv.Ub()))
	}
	var h uint64
	for _, id := range v.Addrs().Sorted() {
		h = mix(h, uint64(id))
	}
	return mix(uint64(v.Kind()), h)
}

func floatBits(f float64) uint64 {
	if f != f { // NaN never appears in this domain, but stay total
		return 0
	}
	return uint64(int64(f*1000)) // fixed-point fold, sufficient for hashing
}

func mix(h, x uint64) uint64 {
	return h ^ (x + 0x9e3779b9 + (h << 6) + (h >> 2))
}

func pairHash(a, b uint64) uint64 { return mix(a, b) }
