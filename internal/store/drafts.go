package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/drafts"
)

const draftsInitializedKey = "drafts_initialized"

// DraftTable is the draft registry kept in the drafts table.
type DraftTable struct {
	s *Store
}

// Drafts returns the draft registry backend of this store.
func (s *Store) Drafts() *DraftTable {
	return &DraftTable{s: s}
}

// Load returns drafts.ErrNotInitialized until Save has run once.
func (d *DraftTable) Load(ctx context.Context) (doi.Set, error) {
	var v string
	err := d.s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, draftsInitializedKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, drafts.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}

	rows, err := d.s.db.QueryContext(ctx, `SELECT doi FROM drafts ORDER BY doi ASC`)
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	defer rows.Close()

	ids := doi.NewSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		ids.Add(doi.DOI(id))
	}
	return ids, rows.Err()
}

// Save replaces the table contents in one transaction.
func (d *DraftTable) Save(ctx context.Context, ids doi.Set) error {
	tx, err := d.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save drafts: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drafts`); err != nil {
		return fmt.Errorf("save drafts: clear: %w", err)
	}
	for _, id := range ids.Sorted() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO drafts (doi) VALUES (?)`, string(id)); err != nil {
			return fmt.Errorf("save drafts: insert %s: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, draftsInitializedKey); err != nil {
		return fmt.Errorf("save drafts: mark initialized: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save drafts: commit: %w", err)
	}
	return nil
}
