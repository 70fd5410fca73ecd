package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/drafts"
	"github.com/roach88/corpussync/internal/events"
	"github.com/roach88/corpussync/internal/metrics"
)

const tracerName = "github.com/roach88/corpussync/internal/engine"

// Engine synchronizes one local store with the registry.
//
// Thread-safety: an Engine may be reused for sequential runs. Concurrent
// Run calls against the same local store are not supported; callers hold
// an external lock.
type Engine struct {
	registry Registry
	local    LocalStore
	drafts   DraftStore

	logger    *slog.Logger
	clock     Clock
	ids       RunIDGenerator
	metrics   *metrics.Metrics
	publisher Publisher
	ledger    Ledger
	tracer    trace.Tracer
	spill     billy.Filesystem

	fetchWorkers   int
	mergeWorkers   int
	retry          RetryPolicy
	requestTimeout time.Duration
	staleDraftAge  time.Duration
}

// New creates an Engine over the given registry, local store and draft
// registry.
func New(registry Registry, local LocalStore, draftStore DraftStore, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		local:          local,
		drafts:         draftStore,
		logger:         slog.Default(),
		clock:          SystemClock{},
		ids:            UUIDv7Generator{},
		publisher:      events.Nop{},
		tracer:         otel.Tracer(tracerName),
		fetchWorkers:   DefaultFetchWorkers,
		mergeWorkers:   DefaultMergeWorkers,
		retry:          DefaultRetryPolicy,
		requestTimeout: DefaultRequestTimeout,
		staleDraftAge:  DefaultStaleDraftAge,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one synchronization run.
//
// The summary is always returned. The error is a *RunError when the run
// aborted; per-document failures are reported in the summary only.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	runID := e.ids.Generate()
	logger := e.logger.With("run_id", runID)
	started := e.clock.Now()

	ctx, span := e.tracer.Start(ctx, "corpussync.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	st := newRunState(runID, started, newStaging(e.spill, runID, logger))
	run := *e
	run.logger = logger

	stale, err := run.execute(ctx, st)
	run.publish(ctx, st)
	summary := st.summary(e.clock.Now(), stale, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run aborted",
			"error", err,
			"merged", summary.Merged,
			"staged", summary.Fetched,
		)
	} else {
		logger.Info("run completed",
			"discovered", summary.Discovered,
			"fetched", summary.Fetched,
			"amended", summary.Amended,
			"promoted", summary.Promoted,
			"new_drafts", summary.NewDrafts,
			"merged", summary.Merged,
			"failed", summary.Failed,
			"vanished", len(summary.VanishedIDs),
			"duration", summary.Duration(),
		)
	}
	span.SetAttributes(
		attribute.Int("merged", summary.Merged),
		attribute.Int("failed", summary.Failed),
	)

	e.metrics.ObserveRun(summary.Outcome(), summary.Duration(), summary.FinishedAt)
	if e.ledger != nil {
		if lerr := e.ledger.RecordRun(context.WithoutCancel(ctx), summary); lerr != nil {
			logger.Warn("failed to record run", "error", lerr)
		}
	}
	return summary, err
}

// execute runs every stage and returns the stale drafts found after a
// complete run.
func (e *Engine) execute(ctx context.Context, st *runState) ([]doi.DOI, error) {
	initial, rebuilt, err := drafts.LoadOrRebuild(ctx, e.drafts, e.local, e.logger)
	if err != nil {
		return nil, e.abort(ctx, st, ErrCodeDraftRegistry, "load draft registry", err)
	}
	st.drafts = newDraftLedger(initial)
	st.registryRebuilt = rebuilt

	if err := e.stage(ctx, "corpussync.plan", func(ctx context.Context) error {
		return e.plan(ctx, st)
	}); err != nil {
		return nil, err
	}

	_ = e.stage(ctx, "corpussync.fetch", func(ctx context.Context) error {
		planned := st.need.Sorted()
		for _, id := range planned {
			st.visited.Claim(id)
		}
		e.fetchFull(ctx, st, planned, OriginPlanned, 0)
		return nil
	})
	_ = e.stage(ctx, "corpussync.resolve", func(ctx context.Context) error {
		e.resolve(ctx, st)
		return nil
	})
	_ = e.stage(ctx, "corpussync.drafts", func(ctx context.Context) error {
		e.checkPromotions(ctx, st)
		e.resolve(ctx, st)
		e.discoverDrafts(st)
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, st, ErrCodeCancelled, "cancelled before merge", err)
	}

	if err := e.stage(ctx, "corpussync.merge", func(ctx context.Context) error {
		return e.merge(ctx, st)
	}); err != nil {
		if ctx.Err() != nil {
			return nil, e.abort(ctx, st, ErrCodeCancelled, "cancelled during merge", err)
		}
		return nil, e.abort(ctx, st, ErrCodePersistence, "merge", err)
	}

	// Every staged document is merged; the registry is saved even if ctx
	// ends now.
	current := st.drafts.snapshot()
	if err := e.drafts.Save(context.WithoutCancel(ctx), current); err != nil {
		return nil, newRunError(ErrCodePersistence, st.id, "save draft registry", err)
	}
	e.metrics.SetDrafts(current.Len())

	if err := st.staging.Discard(); err != nil {
		e.logger.Warn("failed to remove staging spill", "error", err)
	}

	stale := staleDrafts(ctx, st, e.local, e.clock.Now(), e.staleDraftAge)
	for _, id := range stale {
		e.logger.Warn("draft has not been finalized", "doi", id, "max_age", e.staleDraftAge)
	}
	return stale, nil
}

// publish announces every document merged by the run, including runs that
// aborted part way through the merge: the next run will not merge those
// documents again, so this is the only chance to announce them.
func (e *Engine) publish(ctx context.Context, st *runState) {
	changes := st.changes()
	if len(changes) == 0 {
		return
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), changes); err != nil {
		e.logger.Warn("failed to publish changes", "count", len(changes), "error", err)
	}
}

// plan enumerates both identity sets and computes need.
func (e *Engine) plan(ctx context.Context, st *runState) error {
	canonical, err := withRetry(ctx, e, opList, "", e.registry.ListAllIDs)
	if err != nil {
		return e.abort(ctx, st, ErrCodeEnumerate, "list canonical identities", err)
	}
	local, err := e.local.ListIDs(ctx)
	if err != nil {
		return e.abort(ctx, st, ErrCodeEnumerate, "list local identities", err)
	}

	st.canonical = canonical
	st.local = local
	st.need = Plan(canonical, local)
	e.logger.Info("plan computed",
		"canonical", canonical.Len(),
		"local", local.Len(),
		"need", st.need.Len(),
		"drafts", st.drafts.initial.Len(),
	)
	return nil
}

// abort builds the RunError for a stage failure. A cancelled context
// always reports as cancellation.
func (e *Engine) abort(ctx context.Context, st *runState, code RunErrorCode, message string, err error) error {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	if ctx.Err() != nil && code != ErrCodeCancelled {
		code = ErrCodeCancelled
	}
	return newRunError(code, st.id, message, err)
}

func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
