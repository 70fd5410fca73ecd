package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/drafts"
)

// DraftsOptions holds flags for the drafts commands.
type DraftsOptions struct {
	*RootOptions
	ForceUnlock bool
}

// NewDraftsCommand creates the drafts command group.
func NewDraftsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DraftsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect or rebuild the uncorrected proof registry",
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List local articles that are uncorrected proofs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftsList(opts, cmd)
		},
	}

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the proof registry by scanning the local corpus",
		Long: `Scan every local article and record those still in uncorrected proof
state. The existing registry is replaced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraftsRebuild(opts, cmd)
		},
	}
	rebuild.Flags().BoolVar(&opts.ForceUnlock, "force-unlock", false, "remove a stale lock left by a crashed run")

	cmd.AddCommand(list, rebuild)
	return cmd
}

func runDraftsList(opts *DraftsOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	ctx, stop := signalContext(cmd, logger)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.drafts.Load(ctx)
	if errors.Is(err, drafts.ErrNotInitialized) {
		return WrapExitError(ExitCommandError, "no draft registry yet; run 'corpussync drafts rebuild'", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load draft registry", err)
	}
	return opts.out(cmd).ok(draftsReport{Count: ids.Len(), IDs: ids.Sorted()})
}

func runDraftsRebuild(opts *DraftsOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	ctx, stop := signalContext(cmd, logger)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	release, err := a.lockForWrite(ctx, opts.ForceUnlock)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot rebuild", err)
	}
	defer release()

	ids, err := drafts.Rebuild(ctx, a.local, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to scan corpus", err)
	}
	if err := a.drafts.Save(ctx, ids); err != nil {
		return WrapExitError(ExitFailure, "failed to save draft registry", err)
	}
	return opts.out(cmd).ok(draftsReport{Count: ids.Len(), IDs: ids.Sorted(), Rebuilt: true})
}

type draftsReport struct {
	Count   int       `json:"count"`
	IDs     []doi.DOI `json:"ids"`
	Rebuilt bool      `json:"rebuilt,omitempty"`
}

func (r draftsReport) renderText(w io.Writer, verbose bool) error {
	if r.Rebuilt {
		fmt.Fprintf(w, "Draft registry rebuilt: %d uncorrected proofs\n", r.Count)
		if !verbose {
			return nil
		}
	}
	for _, id := range r.IDs {
		fmt.Fprintln(w, id)
	}
	return nil
}
