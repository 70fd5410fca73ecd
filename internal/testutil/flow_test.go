package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRunIDGenerator_Flow(t *testing.T) {
	gen := NewFixedRunIDGenerator("scenario-1")
	assert.Equal(t, "scenario-1", gen.Generate())
	assert.Equal(t, "scenario-1", gen.Generate(), "every run gets the same id")

	assert.Equal(t, "test-run-default", NewFixedRunIDGenerator("").Generate())
}
