package avalue

import (
	"fmt"
	"math"
)

// Interval is a closed interval over the extended reals [-inf, +inf],
// with a distinguished bottom (empty) state. Bounds are compared with the
// standard float64 ordering, which already treats math.Inf(-1)/(1)
// correctly at the extremes.
type Interval struct {
	bottom bool
	lb, ub float64
}

// NewInterval builds [lb, ub]. Passing lb > ub is a caller error that
// produces bottom, matching the domain's own invariant that lb<=ub or the
// value is empty.
func NewInterval(lb, ub float64) Interval {
	if lb > ub {
		return BottomInterval()
	}
	return Interval{lb: lb, ub: ub}
}

// NewNumeral builds the singleton interval [n, n].
func NewNumeral(n float64) Interval { return Interval{lb: n, ub: n} }

// BottomInterval returns ⊥.
func BottomInterval() Interval { return Interval{bottom: true} }

// TopInterval returns (-inf, +inf).
func TopInterval() Interval {
	return Interval{lb: math.Inf(-1), ub: math.Inf(1)}
}

// IsBottom reports whether this interval is empty.
func (iv Interval) IsBottom() bool { return iv.bottom }

// IsTop reports whether this interval is exactly (-inf, +inf).
func (iv Interval) IsTop() bool {
	return !iv.bottom && math.IsInf(iv.lb, -1) && math.IsInf(iv.ub, 1)
}

// SetToBottom returns ⊥, discarding any bounds.
func (iv Interval) SetToBottom() Interval { return BottomInterval() }

// SetToTop returns ⊤.
func (iv Interval) SetToTop() Interval { return TopInterval() }

// Lb returns the lower bound. Meaningless (but zero) on bottom.
func (iv Interval) Lb() float64 {
	if iv.bottom {
		return 0
	}
	return iv.lb
}

// Ub returns the upper bound. Meaningless (but zero) on bottom.
func (iv Interval) Ub() float64 {
	if iv.bottom {
		return 0
	}
	return iv.ub
}

// IsNumeral reports whether the interval is a non-bottom singleton.
func (iv Interval) IsNumeral() bool {
	return !iv.bottom && iv.lb == iv.ub && !math.IsInf(iv.lb, 0)
}

// Numeral returns the singleton value. Only meaningful when IsNumeral.
func (iv Interval) Numeral() float64 { return iv.lb }

// JoinWith returns the interval hull of iv and other (⊔).
func (iv Interval) JoinWith(other Interval) Interval {
	if iv.bottom {
		return other
	}
	if other.bottom {
		return iv
	}
	return Interval{lb: math.Min(iv.lb, other.lb), ub: math.Max(iv.ub, other.ub)}
}

// MeetWith returns the intersection of iv and other (⊓), ⊥ if disjoint.
func (iv Interval) MeetWith(other Interval) Interval {
	if iv.bottom || other.bottom {
		return BottomInterval()
	}
	lb := math.Max(iv.lb, other.lb)
	ub := math.Min(iv.ub, other.ub)
	if lb > ub {
		return BottomInterval()
	}
	return Interval{lb: lb, ub: ub}
}

// WidenWith applies the Cousot widening operator: iv ▽ other. This
// accelerates iv toward other — it is only sound to call after
// a join, never across two arbitrary iterates.
func (iv Interval) WidenWith(other Interval) Interval {
	if iv.bottom {
		return other
	}
	if other.bottom {
		return iv
	}
	lb, ub := iv.lb, iv.ub
	if other.lb < iv.lb {
		lb = math.Inf(-1)
	}
	if other.ub > iv.ub {
		ub = math.Inf(1)
	}
	return Interval{lb: lb, ub: ub}
}

// NarrowWith applies narrowing: iv △ other, recovering precision after a
// widening step. Replaces an infinite bound of iv with other's
// corresponding bound; finite bounds of iv are kept.
func (iv Interval) NarrowWith(other Interval) Interval {
	if iv.bottom || other.bottom {
		return iv
	}
	lb, ub := iv.lb, iv.ub
	if math.IsInf(iv.lb, -1) {
		lb = other.lb
	}
	if math.IsInf(iv.ub, 1) {
		ub = other.ub
	}
	return Interval{lb: lb, ub: ub}
}

// Geq reports iv ⊇ other, i.e. iv ≥ other in the interval lattice order.
// ⊥ is ≥ nothing but itself; every interval is ≥ ⊥.
func (iv Interval) Geq(other Interval) bool {
	if other.bottom {
		return true
	}
	if iv.bottom {
		return false
	}
	return iv.lb <= other.lb && iv.ub >= other.ub
}

// Equals reports structural equality (both bottom, or identical bounds).
func (iv Interval) Equals(other Interval) bool {
	if iv.bottom != other.bottom {
		return false
	}
	if iv.bottom {
		return true
	}
	return iv.lb == other.lb && iv.ub == other.ub
}

func (iv Interval) String() string {
	if iv.bottom {
		return "⊥"
	}
	return fmt.Sprintf("[%s, %s]", formatBound(iv.lb), formatBound(iv.ub))
}

func formatBound(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return fmt.Sprintf("%g", f)
	}
}
