package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBugTypeStringCoversEveryVariant(t *testing.T) {
	for bt := FullBufferOverflow; bt <= PartialNullDeref; bt++ {
		assert.NotEqual(t, "unknown", bt.String())
	}
}

func TestDocumentHoldsDefectsVerbatim(t *testing.T) {
	doc := Document{
		Defects: []Defect{
			{Type: DoubleFree, Events: []Event{{Function: "f", Location: "a.c:10"}}},
		},
		Time:     1.5,
		Memory:   1024,
		Coverage: 0.9,
	}
	assert.Len(t, doc.Defects, 1)
	assert.Equal(t, DoubleFree, doc.Defects[0].Type)
}
