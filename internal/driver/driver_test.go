package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valueflow/internal/avalue"
	"valueflow/internal/cctx"
	"valueflow/internal/config"
	"valueflow/internal/diag"
	"valueflow/internal/state"
)

func numeral(n float64) avalue.Value { return avalue.FromInterval(avalue.NewNumeral(n)) }

func withVar(n float64) *state.State {
	s := state.New()
	s.SetVar(1, numeral(n))
	return s
}

// TestWidenThenNarrowScenario exercises the full loop-header cycle:
// join-only for a bounded number of iterations grows the bound to
// [0,5], then the header switches to widening (->[0,+inf]), then one
// narrowing pass against [0,100] yields [0,100].
func TestWidenThenNarrowScenario(t *testing.T) {
	mc := &diag.MismatchCounter{}
	cs := cctx.CxtStmt{Stmt: 1}
	lh := NewLoopHeader(5)

	cur := withVar(0)
	for i := 1; i <= 5; i++ {
		next := state.New()
		v, _ := cur.LookupVar(1, nil)
		next.SetVar(1, numeral(v.Interval().Ub()+1))
		if lh.Advance(cs) {
			cur = cur.WidenWith(next, mc)
		} else {
			cur = cur.JoinWith(next, mc)
		}
	}
	v, _ := cur.LookupVar(1, nil)
	require.True(t, v.IsInterval())
	assert.Equal(t, 0.0, v.Interval().Lb())
	assert.Equal(t, 5.0, v.Interval().Ub())

	// One more iteration should now widen (6th visit > WidenAfter=5).
	next := state.New()
	next.SetVar(1, numeral(6))
	require.True(t, lh.Advance(cs))
	cur = cur.WidenWith(next, mc)
	v, _ = cur.LookupVar(1, nil)
	assert.True(t, v.Interval().Ub() > 1e300 || v.Interval().IsTop())

	narrowSource := state.New()
	narrowSource.SetVar(1, avalue.FromInterval(avalue.NewInterval(0, 100)))
	cur = cur.NarrowWith(narrowSource, mc)
	v, _ = cur.LookupVar(1, nil)
	assert.Equal(t, 0.0, v.Interval().Lb())
	assert.Equal(t, 100.0, v.Interval().Ub())
}

func TestDriverNew(t *testing.T) {
	cfg := config.New()
	d := New(cfg, nil, nil, nil, nil, nil)
	assert.NotNil(t, d.Global)
	assert.NotNil(t, d.ForkJoin)
	assert.NotNil(t, d.Interleave)
}
