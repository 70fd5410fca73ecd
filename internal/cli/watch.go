package cli

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/metrics"
	"github.com/roach88/corpussync/internal/server"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval    time.Duration
	Listen      string
	ForceUnlock bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Synchronize periodically and serve metrics",
		Long: `Run a synchronization immediately and then every --interval until
interrupted. While watching, an HTTP listener serves /healthz,
/runs/latest and /metrics.

An aborted run is logged and retried at the next interval.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between runs (default from config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "metrics listen address (default from config)")
	cmd.Flags().BoolVar(&opts.ForceUnlock, "force-unlock", false, "remove a stale lock left by a crashed run")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	logger := opts.logger()

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.Watch.Interval.D()
	}
	listen := opts.Listen
	if listen == "" {
		listen = a.cfg.Watch.Listen
	}

	release, err := a.lockForWrite(ctx, opts.ForceUnlock)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start watch", err)
	}
	defer release()

	if err := a.openPublisher(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	eng := a.engine(metrics.New(reg))
	h := server.New(a.ledger, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, listen, h.Router(), logger)
	})
	g.Go(func() error {
		watchLoop(gctx, eng, interval, opts.out(cmd))
		return nil
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "metrics listener failed", err)
	}
	logger.Info("watch stopped")
	return nil
}

// watchLoop runs eng now and then on every tick until ctx is done.
func watchLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, out *output) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := eng.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		// reportRun only fails on aborted runs, which the engine already logged.
		_ = reportRun(out, summary, err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
