package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/corpusdir"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/drafts"
	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/events"
	"github.com/roach88/corpussync/internal/fault"
	"github.com/roach88/corpussync/internal/testutil"
)

// retry keeps transient failures fast and bounded.
var retry = engine.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

// errDiskFull is returned by the local store for fail_put.
var errDiskFull = errors.New("disk full")

// Harness holds the state shared by a scenario's runs.
type Harness struct {
	registry   *testutil.FakeRegistry
	local      *corpusdir.Store
	draftStore *drafts.FileStore
	clock      *testutil.DeterministicClock
	logger     *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory corpus, draft registry and remote
// registry. Workers are limited to one so merge order, and therefore
// interrupted runs, are reproducible.
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.DiscardHandler)
	h := &Harness{
		registry:   testutil.NewFakeRegistry(),
		local:      corpusdir.New(memfs.New(), corpusdir.WithLogger(logger)),
		draftStore: drafts.NewFileStore(memfs.New(), drafts.DefaultFilename, logger),
		clock:      testutil.NewDeterministicClock(),
		logger:     logger,
	}

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Runs {
		rr, err := h.run(ctx, fmt.Sprintf("%s-%d", scenario.Name, i+1), step)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		result.Runs = append(result.Runs, *rr)
		if step.Expect != nil {
			for _, msg := range checkExpect(i, rr, step.Expect) {
				result.AddError(msg)
			}
		}
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	for _, a := range s.Local {
		id := doi.MustParse(a.DOI)
		doc, err := article.Decode(id, content(a))
		if err != nil {
			return fmt.Errorf("local %s: %w", id, err)
		}
		if err := h.local.Put(ctx, doc); err != nil {
			return err
		}
	}
	if s.Drafts != nil {
		if err := h.draftStore.Save(ctx, parseSet(s.Drafts)); err != nil {
			return err
		}
	}
	h.publish(s.Registry)
	return nil
}

func (h *Harness) publish(articles []Article) {
	for _, a := range articles {
		h.registry.SetContent(doi.MustParse(a.DOI), content(a))
	}
}

// run applies step to the registry and executes one engine run.
func (h *Harness) run(ctx context.Context, runID string, step RunStep) (*RunResult, error) {
	h.publish(step.Registry)
	for _, id := range step.Remove {
		h.registry.Remove(doi.MustParse(id))
	}

	for _, f := range step.Failures {
		id := doi.MustParse(f.DOI)
		err := failureError(f.Kind, id)
		if f.Times > 0 {
			h.registry.FailTimes(id, f.Times, err)
		} else {
			h.registry.FailAlways(id, err)
		}
	}
	if step.ListError {
		h.registry.FailList(fault.Transient("list", "", errors.New("search unavailable")))
	}
	defer h.clearFailures(step)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var local engine.LocalStore = h.local
	if step.FailPut != "" || step.InterruptAt != "" {
		local = &faultyStore{
			LocalStore:  h.local,
			failPut:     doi.DOI(step.FailPut),
			interruptAt: doi.DOI(step.InterruptAt),
			cancel:      cancel,
		}
	}

	pub := &events.Memory{}
	eng := engine.New(h.registry, local, h.draftStore,
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(runID)),
		engine.WithRetry(retry),
		engine.WithPublisher(pub),
		engine.WithFetchWorkers(1),
		engine.WithMergeWorkers(1),
	)

	summary, runErr := eng.Run(runCtx)
	if summary == nil {
		return nil, fmt.Errorf("engine returned no summary: %w", runErr)
	}

	rr := &RunResult{Summary: summary, Err: runErr, Changes: []string{}}
	var re *engine.RunError
	if errors.As(runErr, &re) {
		rr.AbortCode = string(re.Code)
	}
	for _, c := range pub.Changes() {
		rr.Changes = append(rr.Changes, c.DOI)
	}
	sort.Strings(rr.Changes)

	saved, err := h.draftStore.Load(ctx)
	switch {
	case errors.Is(err, drafts.ErrNotInitialized):
	case err != nil:
		return nil, err
	default:
		rr.Drafts = saved.Strings()
	}

	ids, err := h.local.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	rr.Local = ids.Strings()
	return rr, nil
}

func (h *Harness) clearFailures(step RunStep) {
	for _, f := range step.Failures {
		id := doi.MustParse(f.DOI)
		h.registry.FailAlways(id, nil)
		h.registry.FailTimes(id, 0, nil)
	}
	if step.ListError {
		h.registry.FailList(nil)
	}
}

func failureError(kind string, id doi.DOI) error {
	if kind == FailNotFound {
		return fault.NotFound("fetch", id)
	}
	return fault.Transient("fetch", id, errors.New("503 service unavailable"))
}

func content(a Article) []byte {
	if a.Raw != "" {
		return []byte(a.Raw)
	}
	return testutil.ArticleXML(testutil.ArticleSpec{
		DOI:       a.DOI,
		Type:      a.Type,
		Related:   a.Related,
		Draft:     a.Draft,
		VORUpdate: a.VORUpdate,
		Body:      a.Body,
	})
}

func parseSet(ids []string) doi.Set {
	s := doi.NewSet()
	for _, id := range ids {
		s.Add(doi.MustParse(id))
	}
	return s
}

// faultyStore wraps the corpus to reject or interrupt one write.
type faultyStore struct {
	engine.LocalStore
	failPut     doi.DOI
	interruptAt doi.DOI
	cancel      context.CancelFunc
}

func (s *faultyStore) Put(ctx context.Context, doc *article.Document) error {
	switch doc.DOI {
	case s.interruptAt:
		s.cancel()
		return ctx.Err()
	case s.failPut:
		return errDiskFull
	}
	return s.LocalStore.Put(ctx, doc)
}
