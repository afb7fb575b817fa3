// Package avalue implements the Abstract Value domain: a tagged union of
// an Interval and an AddrSet, /§4.1.
package avalue

import "valueflow/internal/diag"

// Value is the tagged union carried by every key of an Abstract State.
// Mixing variants on the same key is a documented no-op rather than a panic or a silent coercion.
type Value struct {
	kind  Kind
	iv    Interval
	addrs AddrSet
}

// FromInterval wraps iv as an interval-kind Value.
func FromInterval(iv Interval) Value { return Value{kind: KindInterval, iv: iv} }

// FromAddrSet wraps s as an addrs-kind Value.
func FromAddrSet(s AddrSet) Value { return Value{kind: KindAddrs, addrs: s} }

// Kind reports which variant v carries.
func (v Value) Kind() Kind { return v.kind }

// IsInterval reports whether v carries an Interval.
func (v Value) IsInterval() bool { return v.kind == KindInterval }

// IsAddr reports whether v carries an AddrSet.
func (v Value) IsAddr() bool { return v.kind == KindAddrs }

// Interval returns the wrapped Interval. Only meaningful when IsInterval.
func (v Value) Interval() Interval { return v.iv }

// Addrs returns the wrapped AddrSet. Only meaningful when IsAddr.
func (v Value) Addrs() AddrSet { return v.addrs }

// IsBottom reports whether the wrapped value is its variant's ⊥.
func (v Value) IsBottom() bool {
	if v.kind == KindInterval {
		return v.iv.IsBottom()
	}
	return v.addrs.Len() == 0
}

// IsTop reports whether the wrapped value is its variant's ⊤. An empty
// AddrSet is this variant's ⊥, not ⊤ — there is no finite ⊤ for an
// open-ended id universe, so IsTop is always false for the addrs variant.
func (v Value) IsTop() bool {
	if v.kind == KindInterval {
		return v.iv.IsTop()
	}
	return false
}

// SetToBottom returns v's variant's ⊥, preserving the variant tag.
func (v Value) SetToBottom() Value {
	if v.kind == KindInterval {
		return FromInterval(BottomInterval())
	}
	return FromAddrSet(AddrSet{})
}

// SetToTop returns v's variant's ⊤, preserving the variant tag.
func (v Value) SetToTop() Value {
	if v.kind == KindInterval {
		return FromInterval(TopInterval())
	}
	return v // no finite top for address sets; unchanged
}

// IsNumeral reports whether v is a non-bottom interval singleton. Always
// false for the addrs variant.
func (v Value) IsNumeral() bool {
	return v.kind == KindInterval && v.iv.IsNumeral()
}

// sameKind reports whether v and other carry the same variant.
func (v Value) sameKind(other Value) bool { return v.kind == other.kind }

// JoinWith returns v ⊔ other. A variant mismatch is a documented no-op
// (returns v unchanged) and increments mc if non-nil.
func (v Value) JoinWith(other Value, mc *diag.MismatchCounter) Value {
	if !v.sameKind(other) {
		mc.Inc()
		return v
	}
	if v.kind == KindInterval {
		return FromInterval(v.iv.JoinWith(other.iv))
	}
	return FromAddrSet(v.addrs.JoinWith(other.addrs))
}

// MeetWith returns v ⊓ other, same mismatch contract as JoinWith.
func (v Value) MeetWith(other Value, mc *diag.MismatchCounter) Value {
	if !v.sameKind(other) {
		mc.Inc()
		return v
	}
	if v.kind == KindInterval {
		return FromInterval(v.iv.MeetWith(other.iv))
	}
	return FromAddrSet(v.addrs.MeetWith(other.addrs))
}

// WidenWith returns v ▽ other, same mismatch contract as JoinWith.
func (v Value) WidenWith(other Value, mc *diag.MismatchCounter) Value {
	if !v.sameKind(other) {
		mc.Inc()
		return v
	}
	if v.kind == KindInterval {
		return FromInterval(v.iv.WidenWith(other.iv))
	}
	return FromAddrSet(v.addrs.WidenWith(other.addrs))
}

// NarrowWith returns v △ other, same mismatch contract as JoinWith.
func (v Value) NarrowWith(other Value, mc *diag.MismatchCounter) Value {
	if !v.sameKind(other) {
		mc.Inc()
		return v
	}
	if v.kind == KindInterval {
		return FromInterval(v.iv.NarrowWith(other.iv))
	}
	return FromAddrSet(v.addrs.NarrowWith(other.addrs))
}

// Geq reports v ≥ other. On a variant mismatch this returns false rather
// than panicking or coercing — a safe refinement of "undefined" (forcing
// another fixpoint round can never mask imprecision the way returning
// true would).
func (v Value) Geq(other Value) bool {
	if !v.sameKind(other) {
		return false
	}
	if v.kind == KindInterval {
		return v.iv.Geq(other.iv)
	}
	return v.addrs.Geq(other.addrs)
}

// Equals reports structural equality, including variant.
func (v Value) Equals(other Value) bool {
	if !v.sameKind(other) {
		return false
	}
	if v.kind == KindInterval {
		return v.iv.Equals(other.iv)
	}
	return v.addrs.Equals(other.addrs)
}

func (v Value) String() string {
	if v.kind == KindInterval {
		return v.iv.String()
	}
	return v.addrs.String()
}
