package store

import (
	"context"
	"fmt"
	"time"
)

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID            string          `json:"id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Discovered    int             `json:"discovered"`
	Fetched       int             `json:"fetched"`
	Amended       int             `json:"amended"`
	Promoted      int             `json:"promoted"`
	NewDrafts     int             `json:"new_drafts"`
	RemovedDrafts int             `json:"removed_drafts"`
	Merged        int             `json:"merged"`
	Failed        int             `json:"failed"`
	Vanished      int             `json:"vanished"`
	Aborted       bool            `json:"aborted"`
	AbortReason   string          `json:"abort_reason,omitempty"`
	Failures      []FailureRecord `json:"failures"`
}

// FailureRecord is a DOI that could not be synchronised in a run.
type FailureRecord struct {
	DOI    string `json:"doi"`
	Reason string `json:"reason"`
}

// RecordRun appends a run and its failures in one transaction.
// Recording the same run ID twice is a no-op.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, finished_at, discovered, fetched, amended, promoted,
		 new_drafts, removed_drafts, merged, failed, vanished, aborted, abort_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.StartedAt.UnixMilli(),
		r.FinishedAt.UnixMilli(),
		r.Discovered,
		r.Fetched,
		r.Amended,
		r.Promoted,
		r.NewDrafts,
		r.RemovedDrafts,
		r.Merged,
		r.Failed,
		r.Vanished,
		boolToInt(r.Aborted),
		r.AbortReason,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, f := range r.Failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, doi, reason) VALUES (?, ?, ?)
			ON CONFLICT(run_id, doi) DO NOTHING
		`, r.ID, f.DOI, f.Reason); err != nil {
			return fmt.Errorf("record failure %s for run %s: %w", f.DOI, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record run %s: commit: %w", r.ID, err)
	}
	return nil
}

// LatestRuns returns up to limit runs, newest first, with their failures.
func (s *Store) LatestRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, discovered, fetched, amended, promoted,
		       new_drafts, removed_drafts, merged, failed, vanished, aborted, abort_reason
		FROM runs
		ORDER BY started_at DESC, id ASC COLLATE BINARY
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("latest runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
			aborted           int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Discovered, &r.Fetched, &r.Amended,
			&r.Promoted, &r.NewDrafts, &r.RemovedDrafts, &r.Merged, &r.Failed, &r.Vanished,
			&aborted, &r.AbortReason); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		r.Aborted = aborted != 0
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		failures, err := s.runFailures(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Failures = failures
	}
	return runs, nil
}

func (s *Store) runFailures(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doi, reason FROM run_failures WHERE run_id = ? ORDER BY doi ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("run failures %s: %w", runID, err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.DOI, &f.Reason); err != nil {
			return nil, fmt.Errorf("scan run failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
