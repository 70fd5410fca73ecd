package cli

import (
	"context"

	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/store"
)

// runLedger records engine summaries in the SQLite run ledger.
type runLedger struct {
	st *store.Store
}

func (l runLedger) RecordRun(ctx context.Context, s *engine.RunSummary) error {
	return l.st.RecordRun(ctx, toRunRecord(s))
}

func toRunRecord(s *engine.RunSummary) store.RunRecord {
	rec := store.RunRecord{
		ID:            s.RunID,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
		Discovered:    s.Discovered,
		Fetched:       s.Fetched,
		Amended:       s.Amended,
		Promoted:      s.Promoted,
		NewDrafts:     s.NewDrafts,
		RemovedDrafts: s.RemovedDrafts,
		Merged:        s.Merged,
		Failed:        s.Failed,
		Vanished:      len(s.VanishedIDs),
		Aborted:       s.Aborted,
		AbortReason:   s.AbortReason,
		Failures:      make([]store.FailureRecord, 0, len(s.Failures)),
	}
	for _, f := range s.Failures {
		rec.Failures = append(rec.Failures, store.FailureRecord{DOI: f.DOI.String(), Reason: f.Reason})
	}
	return rec
}
