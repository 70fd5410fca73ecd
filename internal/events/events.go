// Package events announces merged documents to downstream consumers
// (search indexers, relational projections) after a run commits.
//
// Publishing is best effort: the corpus on disk is the source of truth and
// a consumer that misses events can rescan it.
package events

import (
	"context"
	"sync"
	"time"
)

// Action says whether a merge created or replaced a document.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Change describes one merged document.
type Change struct {
	RunID       string    `json:"run_id"`
	DOI         string    `json:"doi"`
	Action      Action    `json:"action"`
	Kind        string    `json:"kind"`
	Draft       bool      `json:"draft"`
	Origin      string    `json:"origin"`
	Fingerprint string    `json:"fingerprint"`
	MergedAt    time.Time `json:"merged_at"`
}

// Publisher delivers changes.
type Publisher interface {
	Publish(ctx context.Context, changes []Change) error
	Close() error
}

// Nop discards changes.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, []Change) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Memory keeps published changes in order. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	changes []Change
	Err     error
}

// Publish implements Publisher. Returns m.Err when set.
func (m *Memory) Publish(_ context.Context, changes []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.changes = append(m.changes, changes...)
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() error { return nil }

// Changes returns a copy of everything published so far.
func (m *Memory) Changes() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Change, len(m.changes))
	copy(out, m.changes)
	return out
}
