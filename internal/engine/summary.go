package engine

import (
	"time"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/fault"
)

// Run outcomes reported to metrics and the ledger.
const (
	RunCompleted = "completed"
	RunAborted   = "aborted"
)

// Failure is an identity that could not be fetched this run.
type Failure struct {
	DOI    doi.DOI    `json:"doi"`
	Kind   fault.Kind `json:"kind"`
	Reason string     `json:"reason"`
}

// RunSummary reports what a run did. It is returned even when the run
// aborts, with Aborted set and counts covering the work done so far.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Canonical  int `json:"canonical"`
	Local      int `json:"local"`
	Discovered int `json:"discovered"`

	Fetched       int `json:"fetched"`
	Amended       int `json:"amended"`
	Promoted      int `json:"promoted"`
	NewDrafts     int `json:"new_drafts"`
	RemovedDrafts int `json:"removed_drafts"`
	Merged        int `json:"merged"`
	Failed        int `json:"failed"`

	Failures    []Failure `json:"failures"`
	VanishedIDs []doi.DOI `json:"vanished_ids"`
	StaleDrafts []doi.DOI `json:"stale_drafts"`

	Rounds          int  `json:"rounds"`
	RegistryRebuilt bool `json:"registry_rebuilt"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`
}

// FailedIDs lists the identities that failed irrecoverably, in DOI order.
func (s *RunSummary) FailedIDs() []doi.DOI {
	ids := make([]doi.DOI, len(s.Failures))
	for i, f := range s.Failures {
		ids[i] = f.DOI
	}
	return ids
}

// Outcome returns RunCompleted or RunAborted.
func (s *RunSummary) Outcome() string {
	if s.Aborted {
		return RunAborted
	}
	return RunCompleted
}

// Duration is the wall time the run took.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
