// Package drafts persists the Draft Registry: the set of DOIs last seen
// as uncorrected proofs.
//
// The registry is a hint that drives promotion checks. It is loaded once
// at the start of a run, mutated in memory, and saved with a single atomic
// write after the merge completes. A registry that was never saved is
// reported as ErrNotInitialized so callers can rebuild it from the local
// store.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
)

// DefaultFilename is the file name used by FileStore.
const DefaultFilename = "uncorrected_proofs_list.txt"

// ErrNotInitialized is returned by Load when nothing was ever saved.
var ErrNotInitialized = errors.New("draft registry not initialized")

// Store loads and saves the registry.
type Store interface {
	Load(ctx context.Context) (doi.Set, error)
	Save(ctx context.Context, ids doi.Set) error
}

// Source is the subset of a local store needed to rebuild the registry.
type Source interface {
	ListIDs(ctx context.Context) (doi.Set, error)
	Get(ctx context.Context, id doi.DOI) (*article.Document, error)
}

// draftLister is implemented by stores that index draft state.
type draftLister interface {
	DraftIDs(ctx context.Context) (doi.Set, error)
}

// Rebuild scans every local document and returns the DOIs of those in
// draft state. Documents that cannot be read are logged and skipped.
func Rebuild(ctx context.Context, src Source, logger *slog.Logger) (doi.Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dl, ok := src.(draftLister); ok {
		found, err := dl.DraftIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list local drafts: %w", err)
		}
		logger.Info("draft registry rebuilt from index", "drafts", found.Len())
		return found, nil
	}

	ids, err := src.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local documents: %w", err)
	}

	found := doi.NewSet()
	for _, id := range ids.Sorted() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := src.Get(ctx, id)
		if err != nil {
			logger.Warn("skipping unreadable document during draft rebuild", "doi", id, "error", err)
			continue
		}
		if doc.Draft {
			found.Add(id)
		}
	}

	logger.Info("draft registry rebuilt", "scanned", ids.Len(), "drafts", found.Len())
	return found, nil
}

// LoadOrRebuild loads the registry, rebuilding and saving it from src when
// it was never initialized. rebuilt reports whether a rebuild happened.
func LoadOrRebuild(ctx context.Context, st Store, src Source, logger *slog.Logger) (ids doi.Set, rebuilt bool, err error) {
	ids, err = st.Load(ctx)
	if err == nil {
		return ids, false, nil
	}
	if !errors.Is(err, ErrNotInitialized) {
		return nil, false, fmt.Errorf("load draft registry: %w", err)
	}

	ids, err = Rebuild(ctx, src, logger)
	if err != nil {
		return nil, false, err
	}
	if err := st.Save(ctx, ids); err != nil {
		return nil, false, fmt.Errorf("save rebuilt draft registry: %w", err)
	}
	return ids, true, nil
}
