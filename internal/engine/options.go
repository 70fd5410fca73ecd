package engine

import (
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/roach88/corpussync/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultFetchWorkers   = 8
	DefaultMergeWorkers   = 4
	DefaultRequestTimeout = 60 * time.Second
	DefaultStaleDraftAge  = 22 * 24 * time.Hour
)

// RetryPolicy bounds retries of transient registry failures. The wait
// before attempt n (n >= 2) is InitialBackoff * 2^(n-2), capped at
// MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used when WithRetry is not given.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    4,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// Backoff returns the wait before the given attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 || p.InitialBackoff <= 0 {
		return 0
	}
	shift := attempt - 2
	if shift > 30 {
		shift = 30
	}
	d := time.Duration(1<<shift) * p.InitialBackoff
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d <= 0) {
		d = p.MaxBackoff
	}
	return d
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDGenerator sets how runs are named. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher announces merged documents through p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLedger records every finished run in l.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithFetchWorkers bounds concurrent registry calls.
func WithFetchWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fetchWorkers = n
		}
	}
}

// WithMergeWorkers bounds concurrent local writes within a merge wave.
func WithMergeWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.mergeWorkers = n
		}
	}
}

// WithRetry sets the retry policy for transient registry failures.
func WithRetry(p RetryPolicy) Option {
	return func(e *Engine) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		e.retry = p
	}
}

// WithRequestTimeout bounds every single registry call.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.requestTimeout = d
		}
	}
}

// WithStaleDraftAge sets the age after which a draft is reported stale.
// Zero disables the report.
func WithStaleDraftAge(d time.Duration) Option {
	return func(e *Engine) { e.staleDraftAge = d }
}

// WithStagingSpill writes staged documents under fs for inspection.
func WithStagingSpill(fs billy.Filesystem) Option {
	return func(e *Engine) { e.spill = fs }
}
