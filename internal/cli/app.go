package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/roach88/corpussync/internal/config"
	"github.com/roach88/corpussync/internal/corpusdir"
	"github.com/roach88/corpussync/internal/drafts"
	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/events"
	"github.com/roach88/corpussync/internal/metrics"
	"github.com/roach88/corpussync/internal/registry"
	"github.com/roach88/corpussync/internal/store"
)

// app is the set of components a command works with, built from the
// effective configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	local    engine.LocalStore
	corpus   *corpusdir.Store // nil unless the directory backend is in use
	drafts   drafts.Store
	registry *registry.Client
	ledger   *store.Store

	// publisher is only opened for commands that merge.
	publisher events.Publisher

	closers []func() error
}

// loadConfig reads the configuration named by the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.getenv())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// openApp builds every component except the publisher. The caller must
// Close the app.
func openApp(ctx context.Context, opts *RootOptions, logger *slog.Logger) (a *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, logger: logger, publisher: events.Nop{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create state directory", err)
	}

	var sqlite *store.Store
	openSQLite := func(path string) (*store.Store, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}

	switch cfg.Store.Backend {
	case "sqlite":
		sqlite, err = openSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open local store", err)
		}
		a.local = sqlite
	default:
		dir, err := corpusdir.Open(cfg.CorpusDir, corpusdir.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open corpus directory", err)
		}
		a.local = dir
		a.corpus = dir
	}

	if sqlite != nil && cfg.LedgerPath == cfg.Store.SQLitePath {
		a.ledger = sqlite
	} else {
		a.ledger, err = openSQLite(cfg.LedgerPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open run ledger", err)
		}
	}

	switch cfg.Drafts.Backend {
	case "sqlite":
		if sqlite == nil {
			if sqlite, err = openSQLite(cfg.Store.SQLitePath); err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to open draft registry", err)
			}
		}
		a.drafts = sqlite.Drafts()
	case "redis":
		client, err := drafts.NewRedisClient(ctx, cfg.Drafts.RedisURL)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open draft registry", err)
		}
		a.closers = append(a.closers, client.Close)
		a.drafts = drafts.NewRedisStore(client, cfg.Drafts.RedisPrefix)
	default:
		fs, err := drafts.OpenFileStore(cfg.Drafts.Path, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open draft registry", err)
		}
		a.drafts = fs
	}

	a.registry = registry.New(registry.Config{
		ArticleBase: cfg.Registry.ArticleBase,
		SearchBase:  cfg.Registry.SearchBase,
		TermsLimit:  cfg.Registry.TermsLimit,
		UserAgent:   cfg.Registry.UserAgent,
	}, logger)

	return a, nil
}

// lockForWrite takes the corpus lock and, once held, removes temp files
// left by an interrupted writer. Commands that only read never call it, so
// they cannot disturb a run in progress.
func (a *app) lockForWrite(ctx context.Context, force bool) (release func(), err error) {
	release, err = acquireLock(a.cfg.CorpusDir, force)
	if err != nil {
		return nil, err
	}
	if a.corpus == nil {
		return release, nil
	}
	n, err := a.corpus.Recover(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("recover corpus directory: %w", err)
	}
	if n > 0 {
		a.logger.Info("recovered corpus directory", "temp_files_removed", n)
	}
	return release, nil
}

// openPublisher connects the change publisher when brokers are configured.
func (a *app) openPublisher(ctx context.Context) error {
	if len(a.cfg.Events.KafkaBrokers) == 0 {
		return nil
	}
	p, err := events.NewKafkaPublisher(ctx, events.KafkaConfig{
		Brokers: a.cfg.Events.KafkaBrokers,
		Topic:   a.cfg.Events.KafkaTopic,
	}, a.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect change publisher", err)
	}
	a.publisher = p
	a.closers = append(a.closers, p.Close)
	return nil
}

// engine builds an Engine from the configuration.
func (a *app) engine(m *metrics.Metrics, extra ...engine.Option) *engine.Engine {
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithMetrics(m),
		engine.WithPublisher(a.publisher),
		engine.WithLedger(runLedger{a.ledger}),
		engine.WithFetchWorkers(a.cfg.Fetch.Workers),
		engine.WithMergeWorkers(a.cfg.Merge.Workers),
		engine.WithRetry(engine.RetryPolicy{
			MaxAttempts:    a.cfg.Fetch.MaxAttempts,
			InitialBackoff: a.cfg.Fetch.InitialBackoff.D(),
			MaxBackoff:     a.cfg.Fetch.MaxBackoff.D(),
		}),
		engine.WithRequestTimeout(a.cfg.Registry.RequestTimeout.D()),
		engine.WithStaleDraftAge(a.cfg.StaleDraftAge.D()),
	}
	if dir := a.cfg.Staging.SpillDir; dir != "" {
		opts = append(opts, engine.WithStagingSpill(osfs.New(dir)))
	}
	return engine.New(a.registry, a.local, a.drafts, append(opts, extra...)...)
}

// Close releases every opened resource in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
