package avalue

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// virtualTag is the high byte that marks a 32-bit id as a virtual memory
// address.
const virtualTag = 0x7F000000
const virtualMask = 0xFF000000
const internalMask = 0x00FFFFFF

// VirtualAddress builds the virtual address for object index idx.
func VirtualAddress(idx uint32) uint32 {
	return virtualTag | (idx & internalMask)
}

// IsVirtualAddress reports whether x's high byte is 0x7F.
func IsVirtualAddress(x uint32) bool {
	return x&virtualMask == virtualTag
}

// InternalID extracts the low 24 bits of a virtual address (the object
// id); it is also safe to call on a non-virtual id, returning its low 24
// bits.
func InternalID(x uint32) uint32 {
	return x & internalMask
}

// IsNull reports whether x's internal id is zero — the null encoding.
func IsNull(x uint32) bool {
	return InternalID(x) == 0
}

// AddrSet is a finite set of 32-bit object identifiers.
type AddrSet struct {
	ids map[uint32]struct{}
}

// NewAddrSet builds a set containing the given ids.
func NewAddrSet(ids ...uint32) AddrSet {
	s := AddrSet{ids: make(map[uint32]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is a member.
func (s AddrSet) Contains(id uint32) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of members.
func (s AddrSet) Len() int { return len(s.ids) }

// Sorted returns the members in ascending order, for deterministic
// iteration.
func (s AddrSet) Sorted() []uint32 {
	out := maps.Keys(s.ids)
	slices.Sort(out)
	return out
}

// JoinWith returns the union of s and other — join in the address-set
// lattice.
func (s AddrSet) JoinWith(other AddrSet) AddrSet {
	out := make(map[uint32]struct{}, len(s.ids)+len(other.ids))
	for id := range s.ids {
		out[id] = struct{}{}
	}
	for id := range other.ids {
		out[id] = struct{}{}
	}
	return AddrSet{ids: out}
}

// MeetWith returns the intersection of s and other — meet in the
// address-set lattice.
func (s AddrSet) MeetWith(other AddrSet) AddrSet {
	small, big := s, other
	if len(big.ids) < len(small.ids) {
		small, big = big, small
	}
	out := make(map[uint32]struct{}, len(small.ids))
	for id := range small.ids {
		if _, ok := big.ids[id]; ok {
			out[id] = struct{}{}
		}
	}
	return AddrSet{ids: out}
}

// WidenWith is join: the address-set lattice has no ascending chains
// worth accelerating beyond a plain union.
func (s AddrSet) WidenWith(other AddrSet) AddrSet { return s.JoinWith(other) }

// NarrowWith is meet, for the same reason as WidenWith.
func (s AddrSet) NarrowWith(other AddrSet) AddrSet { return s.MeetWith(other) }

// Geq reports s ⊇ other.
func (s AddrSet) Geq(other AddrSet) bool {
	for id := range other.ids {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Equals reports set equality.
func (s AddrSet) Equals(other AddrSet) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	return s.Geq(other)
}

func (s AddrSet) String() string {
	sorted := s.Sorted()
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmtAddr(id)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func fmtAddr(id uint32) string {
	if IsVirtualAddress(id) {
		if IsNull(id) {
			return "null"
		}
		return "obj#" + itoa(InternalID(id))
	}
	return itoa(id)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
