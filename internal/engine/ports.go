package engine

import (
	"context"
	"time"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/events"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports.go -package=mocks -exclude_interfaces=Ledger,Clock,RunIDGenerator

// Registry is the remote source of truth.
type Registry interface {
	ListAllIDs(ctx context.Context) (doi.Set, error)
	Fetch(ctx context.Context, id doi.DOI) (*article.Document, error)
	FetchFingerprint(ctx context.Context, id doi.DOI) (article.Fingerprint, error)
}

// LocalStore is the mirrored corpus. Put must be atomic per document.
type LocalStore interface {
	ListIDs(ctx context.Context) (doi.Set, error)
	Fingerprint(ctx context.Context, id doi.DOI) (article.Fingerprint, bool, error)
	Get(ctx context.Context, id doi.DOI) (*article.Document, error)
	Put(ctx context.Context, doc *article.Document) error
}

// DraftStore persists the draft registry. Load returns
// drafts.ErrNotInitialized when nothing was ever saved.
type DraftStore interface {
	Load(ctx context.Context) (doi.Set, error)
	Save(ctx context.Context, ids doi.Set) error
}

// Publisher announces merged documents.
type Publisher interface {
	Publish(ctx context.Context, changes []events.Change) error
}

// Ledger records finished runs.
type Ledger interface {
	RecordRun(ctx context.Context, s *RunSummary) error
}

// Clock supplies wall time for run timestamps and stale-draft checks.
type Clock interface {
	Now() time.Time
}

// RunIDGenerator names runs.
type RunIDGenerator interface {
	Generate() string
}
