package engine_test

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/corpusdir"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/drafts"
	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/events"
	"github.com/roach88/corpussync/internal/testutil"
)

// Identities used across tests. E, F, H match the names used when
// describing scenarios.
var (
	idA = doi.MustParse("10.1371/journal.pone.0000001")
	idB = doi.MustParse("10.1371/journal.pone.0000002")
	idC = doi.MustParse("10.1371/journal.pone.0000003")
	idD = doi.MustParse("10.1371/journal.pone.0000004")
	idE = doi.MustParse("10.1371/journal.pone.0000005")
	idF = doi.MustParse("10.1371/journal.pone.0000006")
	idG = doi.MustParse("10.1371/journal.pone.0000007")
	idH = doi.MustParse("10.1371/journal.pone.0000008")
)

var testRetry = engine.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

type fixture struct {
	reg        *testutil.FakeRegistry
	corpusFS   billy.Filesystem
	local      *corpusdir.Store
	draftStore *drafts.FileStore
	clock      *testutil.DeterministicClock
	pub        *events.Memory
	ledger     *memoryLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	corpusFS := memfs.New()
	return &fixture{
		reg:        testutil.NewFakeRegistry(),
		corpusFS:   corpusFS,
		local:      corpusdir.New(corpusFS, corpusdir.WithLogger(logger)),
		draftStore: drafts.NewFileStore(memfs.New(), drafts.DefaultFilename, logger),
		clock:      testutil.NewDeterministicClock(),
		pub:        &events.Memory{},
		ledger:     &memoryLedger{},
	}
}

// engine builds an engine over the fixture's real local store.
func (f *fixture) engine(opts ...engine.Option) *engine.Engine {
	return f.engineWith(f.local, opts...)
}

func (f *fixture) engineWith(local engine.LocalStore, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithLogger(slog.New(slog.DiscardHandler)),
		engine.WithClock(f.clock),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator("test-run")),
		engine.WithRetry(testRetry),
		engine.WithPublisher(f.pub),
		engine.WithLedger(f.ledger),
	}
	return engine.New(f.reg, local, f.draftStore, append(base, opts...)...)
}

func (f *fixture) run(t *testing.T, opts ...engine.Option) *engine.RunSummary {
	t.Helper()
	summary, err := f.engine(opts...).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.False(t, summary.Aborted)
	return summary
}

// seedLocal writes spec straight into the local store.
func (f *fixture) seedLocal(t *testing.T, spec testutil.ArticleSpec) {
	t.Helper()
	id := doi.MustParse(spec.DOI)
	doc, err := article.Decode(id, testutil.ArticleXML(spec))
	require.NoError(t, err)
	require.NoError(t, f.local.Put(context.Background(), doc))
}

// seedDrafts initializes the draft registry with ids.
func (f *fixture) seedDrafts(t *testing.T, ids ...doi.DOI) {
	t.Helper()
	require.NoError(t, f.draftStore.Save(context.Background(), doi.NewSet(ids...)))
}

func (f *fixture) localIDs(t *testing.T) doi.Set {
	t.Helper()
	ids, err := f.local.ListIDs(context.Background())
	require.NoError(t, err)
	return ids
}

func (f *fixture) localFingerprint(t *testing.T, id doi.DOI) (article.Fingerprint, bool) {
	t.Helper()
	fp, ok, err := f.local.Fingerprint(context.Background(), id)
	require.NoError(t, err)
	return fp, ok
}

func (f *fixture) savedDrafts(t *testing.T) doi.Set {
	t.Helper()
	ids, err := f.draftStore.Load(context.Background())
	require.NoError(t, err)
	return ids
}

// snapshot returns the content of every local document.
func (f *fixture) snapshot(t *testing.T) map[doi.DOI]string {
	t.Helper()
	out := make(map[doi.DOI]string)
	for _, id := range f.localIDs(t).Sorted() {
		doc, err := f.local.Get(context.Background(), id)
		require.NoError(t, err)
		out[id] = string(doc.Content)
	}
	return out
}

func article1(id doi.DOI, body string) testutil.ArticleSpec {
	return testutil.ArticleSpec{DOI: id.String(), Body: body}
}

// memoryLedger keeps recorded summaries.
type memoryLedger struct {
	mu   sync.Mutex
	runs []*engine.RunSummary
}

func (l *memoryLedger) RecordRun(_ context.Context, s *engine.RunSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, s)
	return nil
}

// interruptingStore wraps a local store and cancels the run when Put is
// called for a chosen identity.
type interruptingStore struct {
	engine.LocalStore
	on     doi.DOI
	cancel context.CancelFunc
}

func (s *interruptingStore) Put(ctx context.Context, doc *article.Document) error {
	if doc.DOI == s.on {
		s.cancel()
		return ctx.Err()
	}
	return s.LocalStore.Put(ctx, doc)
}

// failingStore rejects Put for one identity.
type failingStore struct {
	engine.LocalStore
	on  doi.DOI
	err error
}

func (s *failingStore) Put(ctx context.Context, doc *article.Document) error {
	if doc.DOI == s.on {
		return s.err
	}
	return s.LocalStore.Put(ctx, doc)
}

func changeDOIs(changes []events.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.DOI
	}
	sort.Strings(out)
	return out
}

func nilLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// slowRegistry blocks Fetch for one identity until the call's context ends.
type slowRegistry struct {
	*testutil.FakeRegistry
	slow doi.DOI
}

func (r *slowRegistry) Fetch(ctx context.Context, id doi.DOI) (*article.Document, error) {
	if id == r.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.FakeRegistry.Fetch(ctx, id)
}
