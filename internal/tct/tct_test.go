package tct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"valueflow/internal/cctx"
)

func TestForkSingleChildNotMultiForked(t *testing.T) {
	tr := New(2)
	tr.AddRoot(0, 1)
	tr.Fork(0, 1, 2)

	assert.False(t, tr.IsMultiForked(1))
	parent, ok := tr.Parent(1)
	require.True(t, ok)
	assert.Equal(t, cctx.ThreadID(0), parent)
}

func TestForkTwiceMarksBothChildrenMultiForked(t *testing.T) {
	tr := New(2)
	tr.AddRoot(0, 1)
	tr.Fork(0, 1, 2)
	tr.Fork(0, 2, 2)

	assert.True(t, tr.IsMultiForked(1))
	assert.True(t, tr.IsMultiForked(2))
	assert.ElementsMatch(t, []cctx.ThreadID{1, 2}, tr.Children(0))
}

func TestUnregisteredThreadReportsAbsent(t *testing.T) {
	tr := New(2)
	assert.False(t, tr.Node(99))
	_, ok := tr.Parent(99)
	assert.False(t, ok)
}

func TestNewThreadIDsAreDistinct(t *testing.T) {
	a := NewThreadID()
	b := NewThreadID()
	assert.NotEqual(t, a, b)
}
