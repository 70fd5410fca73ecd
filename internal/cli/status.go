package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/corpussync/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Limit int
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show recent runs from the run ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 5, "number of runs to show")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}

	logger := opts.logger()
	ctx, stop := signalContext(cmd, logger)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.ledger.LatestRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read run ledger", err)
	}
	return opts.out(cmd).ok(statusReport{Runs: runs})
}

type statusReport struct {
	Runs []store.RunRecord `json:"runs"`
}

func (r statusReport) renderText(w io.Writer, verbose bool) error {
	if len(r.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, run := range r.Runs {
		status := "ok"
		if run.Aborted {
			status = "ABORTED " + run.AbortReason
		}
		fmt.Fprintf(w, "%s  %s  merged=%d failed=%d vanished=%d  %s\n",
			run.StartedAt.Local().Format(time.DateTime), run.ID,
			run.Merged, run.Failed, run.Vanished, status)
		if verbose {
			for _, f := range run.Failures {
				fmt.Fprintf(w, "    %s: %s\n", f.DOI, f.Reason)
			}
		}
	}
	return nil
}
