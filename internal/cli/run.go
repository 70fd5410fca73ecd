package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/corpussync/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ForceUnlock bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize the local corpus once",
		Long: `Run one synchronization pass against the registry.

New articles are downloaded, amendments pull in the articles they amend,
and uncorrected proofs are replaced once the final version is published.
Per-article failures are reported but do not fail the run.

Exit codes:
  0  run completed (failures, if any, are listed in the summary)
  1  run aborted (store write failed, registry unreachable, interrupted)
  2  configuration or setup error

Example:
  corpussync run
  PLOS_CORPUS=~/plos corpussync run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ForceUnlock, "force-unlock", false, "remove a stale lock left by a crashed run")

	return cmd
}

func runSync(opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	out := opts.out(cmd)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("error closing stores", "error", closeErr)
		}
	}()

	release, err := a.lockForWrite(ctx, opts.ForceUnlock)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot start run", err)
	}
	defer release()

	if err := a.openPublisher(ctx); err != nil {
		return err
	}
	out.logf("corpus %s (store %s, drafts %s)", a.cfg.CorpusDir, a.cfg.Store.Backend, a.cfg.Drafts.Backend)

	var extra []engine.Option
	if opts.RunIDs != nil {
		extra = append(extra, engine.WithRunIDGenerator(opts.RunIDs))
	}
	// A one-shot run has no scrape endpoint; only watch records metrics.
	eng := a.engine(nil, extra...)

	summary, runErr := eng.Run(ctx)
	return reportRun(out, summary, runErr)
}

// reportRun writes the summary and maps an aborted run to ExitFailure.
func reportRun(out *output, summary *engine.RunSummary, runErr error) error {
	if runErr == nil {
		return out.ok(runReport{summary})
	}

	code := "RUN_FAILED"
	var re *engine.RunError
	if errors.As(runErr, &re) {
		code = string(re.Code)
	}
	if err := out.fail(code, runErr, runReport{summary}); err != nil {
		return err
	}
	return WrapExitError(ExitFailure, "run aborted", runErr)
}

// runReport renders a RunSummary for the terminal.
type runReport struct {
	*engine.RunSummary
}

func (r runReport) runID() string {
	if r.RunSummary == nil {
		return ""
	}
	return r.RunID
}

func (r runReport) renderText(w io.Writer, verbose bool) error {
	s := r.RunSummary
	status := "completed"
	if s.Aborted {
		status = "aborted: " + s.AbortReason
	}
	fmt.Fprintf(w, "Run %s %s in %s\n", s.RunID, status, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  discovered %d, fetched %d, merged %d\n", s.Discovered, s.Fetched, s.Merged)
	fmt.Fprintf(w, "  amended %d, promoted %d, new drafts %d, removed drafts %d\n",
		s.Amended, s.Promoted, s.NewDrafts, s.RemovedDrafts)
	fmt.Fprintf(w, "  failed %d, vanished %d, stale drafts %d\n",
		s.Failed, len(s.VanishedIDs), len(s.StaleDrafts))

	for _, f := range s.Failures {
		fmt.Fprintf(w, "  FAILED %s: %s\n", f.DOI, f.Reason)
	}
	if verbose {
		for _, id := range s.VanishedIDs {
			fmt.Fprintf(w, "  vanished %s\n", id)
		}
		for _, id := range s.StaleDrafts {
			fmt.Fprintf(w, "  stale draft %s\n", id)
		}
	}
	return nil
}
