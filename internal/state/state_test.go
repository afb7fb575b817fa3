package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valueflow/internal/avalue"
	"valueflow/internal/diag"
)

func numeral(n float64) avalue.Value {
	return avalue.FromInterval(avalue.NewNumeral(n))
}

func TestLookupVarCascadesToGlobal(t *testing.T) {
	g := New()
	g.SetVar(1, numeral(7))

	local := New()
	v, ok := local.LookupVar(1, g)
	require.True(t, ok)
	assert.True(t, v.Equals(numeral(7)))

	local.SetVar(1, numeral(9))
	v, ok = local.LookupVar(1, g)
	require.True(t, ok)
	assert.True(t, v.Equals(numeral(9)), "local binding must shadow global")

	_, ok = local.LookupVar(2, g)
	assert.False(t, ok)
}

func TestCopyGlobalToLocalIsNoOpIfAlreadyLocal(t *testing.T) {
	g := New()
	g.SetVar(1, numeral(1))
	local := New()
	local.SetVar(1, numeral(2))

	local.CopyGlobalToLocal(1, g)
	v, _ := local.LookupVar(1, nil)
	assert.True(t, v.Equals(numeral(2)))
}

func TestStoreLoadRoundTrip(t *testing.T) {
	s := New()
	addr := avalue.VirtualAddress(5)
	s.Store(addr, numeral(42))
	got := s.Load(addr, nil)
	assert.True(t, got.Equals(numeral(42)))
}

func TestLoadMissInsertsTop(t *testing.T) {
	s := New()
	addr := avalue.VirtualAddress(9)
	got := s.Load(addr, nil)
	assert.True(t, got.Interval().IsTop())

	again := s.Load(addr, nil)
	assert.True(t, again.Equals(got), "second load must see the inserted top, not insert again")
}

func TestLoadCascadesToGlobalMemory(t *testing.T) {
	g := New()
	addr := avalue.VirtualAddress(7)
	g.Store(addr, numeral(3))

	local := New()
	got := local.Load(addr, g)
	assert.True(t, got.Equals(numeral(3)))
}

func TestLoadMissInsertsTopIntoGlobalNotLocal(t *testing.T) {
	g := New()
	addr := avalue.VirtualAddress(11)

	local := New()
	got := local.Load(addr, g)
	assert.True(t, got.Interval().IsTop())

	_, localHit := local.m[avalue.InternalID(addr)]
	assert.False(t, localHit, "miss must insert top into the global map, not the local one")
	_, globalHit := g.m[avalue.InternalID(addr)]
	assert.True(t, globalHit)
}

func TestLoadDoesNotSpecialCaseNullEncodedAddress(t *testing.T) {
	s := New()
	addr := avalue.VirtualAddress(0)
	got := s.Load(addr, nil)
	assert.True(t, got.Interval().IsTop(), "a miss is always top, never the zero/bottom Value — load has no null short-circuit")
}

func TestStoreNullAddressIsNoOp(t *testing.T) {
	s := New()
	null := avalue.VirtualAddress(0)
	s.Store(null, numeral(1))
	assert.Equal(t, 0, len(s.m))
}

func TestStorePanicsOnNonVirtualAddress(t *testing.T) {
	s := New()
	assert.Panics(t, func() {
		s.Store(0x1234, numeral(1))
	})
}

func TestHasBottom(t *testing.T) {
	s := New()
	assert.False(t, s.HasBottom())
	s.SetVar(1, avalue.FromInterval(avalue.BottomInterval()))
	assert.True(t, s.HasBottom())
}

func TestSliceKeepsOnlyRequestedIds(t *testing.T) {
	s := New()
	s.SetVar(1, numeral(1))
	s.SetVar(2, numeral(2))
	sliced := s.Slice([]uint32{1})
	_, ok := sliced.LookupVar(2, nil)
	assert.False(t, ok)
	v, ok := sliced.LookupVar(1, nil)
	require.True(t, ok)
	assert.True(t, v.Equals(numeral(1)))
}

func TestJoinWithCarriesUnmatchedKeysFromEitherSide(t *testing.T) {
	mc := &diag.MismatchCounter{}
	a := New()
	a.SetVar(1, numeral(1))
	b := New()
	b.SetVar(2, numeral(2))

	joined := a.JoinWith(b, mc)
	v1, ok := joined.LookupVar(1, nil)
	require.True(t, ok)
	assert.True(t, v1.Equals(numeral(1)))
	v2, ok := joined.LookupVar(2, nil)
	require.True(t, ok)
	assert.True(t, v2.Equals(numeral(2)))
}

func TestWidenWithOnlyTouchesReceiverKeys(t *testing.T) {
	mc := &diag.MismatchCounter{}
	a := New()
	a.SetVar(1, numeral(1))
	b := New()
	b.SetVar(1, numeral(5))
	b.SetVar(2, numeral(9))

	widened := a.WidenWith(b, mc)
	_, ok := widened.LookupVar(2, nil)
	assert.False(t, ok, "widenWith must not introduce keys absent from the receiver")
}

func TestGeqEmptyOtherIsTrivial(t *testing.T) {
	a := New()
	b := New()
	assert.True(t, a.Geq(b))
}

func TestGeqMissingKeyFails(t *testing.T) {
	a := New()
	b := New()
	b.SetVar(1, numeral(1))
	assert.False(t, a.Geq(b))
}

func TestLessIsExactNegationOfGeq(t *testing.T) {
	a := New()
	a.SetVar(1, avalue.FromInterval(avalue.NewInterval(0, 10)))
	b := New()
	b.SetVar(1, avalue.FromInterval(avalue.NewInterval(2, 3)))

	assert.True(t, a.Geq(b))
	assert.False(t, a.Less(b))
	assert.True(t, b.Less(a))
}

func TestEqualsDetectsDifferentKeySets(t *testing.T) {
	a := New()
	a.SetVar(1, numeral(1))
	b := New()
	assert.False(t, a.Equals(b))
}

func TestHashStableAndSensitiveToContent(t *testing.T) {
	a := New()
	a.SetVar(1, numeral(1))
	b := New()
	b.SetVar(1, numeral(1))
	assert.Equal(t, a.Hash(), b.Hash())

	b.SetVar(1, numeral(2))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestMismatchedVariantJoinIsNoOpAndCounted(t *testing.T) {
	mc := &diag.MismatchCounter{}
	a := New()
	a.SetVar(1, numeral(1))
	b := New()
	b.SetVar(1, avalue.FromAddrSet(avalue.NewAddrSet(avalue.VirtualAddress(3))))

	joined := a.JoinWith(b, mc)
	v, ok := joined.LookupVar(1, nil)
	require.True(t, ok)
	assert.True(t, v.Equals(numeral(1)))
	assert.Equal(t, int64(1), mc.Count())
}
