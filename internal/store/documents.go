package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
)

// ListIDs returns every stored DOI.
func (s *Store) ListIDs(ctx context.Context) (doi.Set, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doi FROM documents ORDER BY doi ASC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	ids := doi.NewSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids.Add(doi.DOI(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return ids, nil
}

// Fingerprint returns the stored fingerprint of id; ok is false when absent.
func (s *Store) Fingerprint(ctx context.Context, id doi.DOI) (article.Fingerprint, bool, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint FROM documents WHERE doi = ?`, string(id)).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fingerprint %s: %w", id, err)
	}
	return article.Fingerprint(fp), true, nil
}

// Get decodes the stored snapshot of id. Returns an error matching
// fs.ErrNotExist when absent.
func (s *Store) Get(ctx context.Context, id doi.DOI) (*article.Document, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE doi = ?`, string(id)).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return article.Decode(id, content)
}

// Put creates or replaces the row for doc in one statement.
func (s *Store) Put(ctx context.Context, doc *article.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doi, fingerprint, kind, draft, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doi) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			kind        = excluded.kind,
			draft       = excluded.draft,
			content     = excluded.content,
			updated_at  = excluded.updated_at
	`,
		string(doc.DOI),
		string(doc.Fingerprint),
		string(doc.Kind),
		boolToInt(doc.Draft),
		doc.Content,
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", doc.DOI, err)
	}
	return nil
}

// DraftIDs returns the DOIs whose stored snapshot is a draft. Used to
// rebuild the draft registry without decoding every row.
func (s *Store) DraftIDs(ctx context.Context) (doi.Set, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doi FROM documents WHERE draft = 1 ORDER BY doi ASC`)
	if err != nil {
		return nil, fmt.Errorf("list draft documents: %w", err)
	}
	defer rows.Close()

	ids := doi.NewSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan draft id: %w", err)
		}
		ids.Add(doi.DOI(id))
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
