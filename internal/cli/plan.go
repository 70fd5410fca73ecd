package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/engine"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show which articles the next run would download",
		Long: `List the articles present in the registry but missing locally.

Nothing is downloaded or written. Amendment targets and proof promotions
are only discovered during a real run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, cmd)
		},
	}
}

func runPlan(opts *RootOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	out := opts.out(cmd)

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	a, err := openApp(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	canonical, err := a.registry.ListAllIDs(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to enumerate registry", err)
	}
	local, err := a.local.ListIDs(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to enumerate local store", err)
	}

	need := engine.Plan(canonical, local)
	return out.ok(planReport{
		Canonical: canonical.Len(),
		Local:     local.Len(),
		New:       need.Len(),
		IDs:       need.Sorted(),
	})
}

type planReport struct {
	Canonical int       `json:"canonical"`
	Local     int       `json:"local"`
	New       int       `json:"new"`
	IDs       []doi.DOI `json:"ids"`
}

func (r planReport) renderText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "%d new articles to download (registry %d, local %d)\n", r.New, r.Canonical, r.Local)
	if verbose {
		for _, id := range r.IDs {
			fmt.Fprintln(w, id)
		}
	}
	return nil
}
