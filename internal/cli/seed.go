package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/corpussync/internal/drafts"
	"github.com/roach88/corpussync/internal/seed"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Archive     string
	Overwrite   bool
	ForceUnlock bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the local corpus from a bulk article archive",
		Long: `Import every article XML file from a bulk archive of the corpus
(.zip, .tar, .tar.gz or .tgz) into the local store, then rebuild the
uncorrected proof registry. Articles already present are kept unless
--overwrite is given.

Seeding first and then running 'corpussync run' downloads only what was
published after the archive was made.

Example:
  corpussync seed --archive ~/Downloads/allofplos_xml.zip`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Archive, "archive", "", "path to the corpus archive (required)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace articles already in the local corpus")
	cmd.Flags().BoolVar(&opts.ForceUnlock, "force-unlock", false, "remove a stale lock left by a crashed run")
	_ = cmd.MarkFlagRequired("archive")

	return cmd
}

func runSeed(opts *SeedOptions, cmd *cobra.Command) error {
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
		return WrapExitError(ExitCommandError, "cannot seed", err)
	}
	defer release()

	res, err := seed.Import(ctx, opts.Archive, a.local, seed.Options{Overwrite: opts.Overwrite, Logger: logger})
	switch {
	case errors.Is(err, seed.ErrUnsupportedArchive), errors.Is(err, seed.ErrUnreadableArchive):
		return WrapExitError(ExitCommandError, "cannot read archive", err)
	case err != nil:
		return WrapExitError(ExitFailure, "seed stopped part way", err)
	}

	ids, err := drafts.Rebuild(ctx, a.local, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to scan corpus", err)
	}
	if err := a.drafts.Save(ctx, ids); err != nil {
		return WrapExitError(ExitFailure, "failed to save draft registry", err)
	}
	return opts.out(cmd).ok(seedReport{Result: res, Drafts: ids.Len()})
}

type seedReport struct {
	*seed.Result
	Drafts int `json:"drafts"`
}

func (r seedReport) renderText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Seeded %d articles (%d already present, %d rejected); %d uncorrected proofs\n",
		r.Imported, r.Skipped, len(r.Rejected), r.Drafts)
	for _, rej := range r.Rejected {
		if !verbose {
			break
		}
		fmt.Fprintf(w, "  REJECTED %s: %s\n", rej.Entry, rej.Reason)
	}
	return nil
}
