package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Transient("fetch", "10.1371/journal.pone.0000001", errors.New("connection reset"))
	assert.Equal(t, "TRANSIENT: fetch 10.1371/journal.pone.0000001: connection reset", err.Error())

	assert.Equal(t, "NOT_FOUND: fetch 10.1371/journal.pone.0000001", NotFound("fetch", "10.1371/journal.pone.0000001").Error())
}

func TestClassification_Wrapped(t *testing.T) {
	base := Malformed("decode", "10.1371/journal.pone.0000001", errors.New("bad xml"))
	wrapped := fmt.Errorf("stage: %w", base)

	assert.True(t, IsMalformed(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, KindMalformed, KindOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", Transient("fetch", "", errors.New("503")), true},
		{"unclassified", errors.New("dial tcp: i/o timeout"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"cancelled inside transient", Transient("fetch", "", context.Canceled), false},
		{"not found", NotFound("fetch", ""), false},
		{"persistence", Persistence("put", "", errors.New("disk full")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "PERSISTENCE: put: disk full", Describe(Persistence("put", "", errors.New("disk full"))))
	assert.Equal(t, "TRANSIENT: boom", Describe(errors.New("boom")))
}

func TestIsPersistenceAndTransient(t *testing.T) {
	assert.True(t, IsPersistence(Persistence("put", "", nil)))
	assert.True(t, IsTransient(Transient("list", "", nil)))
	assert.False(t, IsTransient(errors.New("plain")))
}
