package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/fault"
)

// Registry operation names used in logs and metrics.
const (
	opList        = "list"
	opFetch       = "fetch"
	opFingerprint = "fingerprint"
)

// withRetry calls fn until it succeeds, fails permanently, or the retry
// policy is exhausted. Each attempt gets its own timeout.
func withRetry[T any](ctx context.Context, e *Engine, op string, id doi.DOI, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.IncRetry(op)
			e.logger.Warn("transient registry failure, retrying",
				"op", op,
				"doi", id,
				"attempt", attempt-1,
				"error", lastErr,
			)
			if err := sleep(ctx, e.retry.Backoff(attempt)); err != nil {
				return zero, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
		start := time.Now()
		v, err := fn(callCtx)
		cancel()
		e.metrics.ObserveRemoteCall(op, time.Since(start))

		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if !fault.IsRetryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fetchAll runs fn for every id on the fetch worker pool and waits.
// Remaining ids are skipped once ctx is done.
func (e *Engine) fetchAll(ctx context.Context, ids []doi.DOI, fn func(context.Context, doi.DOI)) {
	var g errgroup.Group
	g.SetLimit(e.fetchWorkers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchFull fetches every id into staging unconditionally.
func (e *Engine) fetchFull(ctx context.Context, st *runState, ids []doi.DOI, origin Origin, round int) {
	e.fetchAll(ctx, ids, func(ctx context.Context, id doi.DOI) {
		e.fetchOne(ctx, st, id, origin, round)
	})
}

// fetchIfChanged fetches every id whose local fingerprint is absent or
// differs from the registry's.
func (e *Engine) fetchIfChanged(ctx context.Context, st *runState, ids []doi.DOI, origin Origin, round int) {
	e.fetchAll(ctx, ids, func(ctx context.Context, id doi.DOI) {
		local, ok, err := e.local.Fingerprint(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("local fingerprint unreadable, fetching", "doi", id, "error", err)
			ok = false
		}
		if ok {
			remote, err := withRetry(ctx, e, opFingerprint, id, func(ctx context.Context) (article.Fingerprint, error) {
				return e.registry.FetchFingerprint(ctx, id)
			})
			if err != nil {
				e.failed(ctx, st, opFingerprint, id, err)
				return
			}
			if remote == local {
				st.visited.Mark(id, OutcomeUnchanged)
				e.metrics.IncDocument(opFingerprint, OutcomeUnchanged.String())
				e.logger.Debug("document unchanged", "doi", id, "origin", origin)
				return
			}
		}
		e.fetchOne(ctx, st, id, origin, round)
	})
}

func (e *Engine) fetchOne(ctx context.Context, st *runState, id doi.DOI, origin Origin, round int) {
	doc, err := withRetry(ctx, e, opFetch, id, func(ctx context.Context) (*article.Document, error) {
		return e.registry.Fetch(ctx, id)
	})
	if err != nil {
		e.failed(ctx, st, opFetch, id, err)
		return
	}
	st.stage(&Entry{Doc: doc, Origin: origin, Round: round})
	e.metrics.IncDocument(opFetch, OutcomeStaged.String())
	e.logger.Debug("document staged",
		"doi", id,
		"kind", doc.Kind,
		"draft", doc.Draft,
		"origin", origin,
		"round", round,
	)
}

// failed records a per-identity failure. Nothing is recorded when the run
// itself is being cancelled.
func (e *Engine) failed(ctx context.Context, st *runState, op string, id doi.DOI, err error) {
	if ctx.Err() != nil {
		return
	}
	outcome := st.fail(id, err)
	e.metrics.IncDocument(op, outcome.String())
	if outcome == OutcomeVanished {
		e.logger.Info("document no longer in registry", "doi", id, "op", op)
		return
	}
	e.logger.Error("document fetch failed", "doi", id, "op", op, "kind", fault.KindOf(err), "error", err)
}
