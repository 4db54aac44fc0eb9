package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "documents/u-1/d-9.pdf", DocumentKey("u-1", "d-9", ".pdf"))
	assert.Equal(t, "documents/u-1/d-9", DocumentKey("u-1", "d-9", ""))
}
