package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/ride-dispatch/internal/importer"
	"github.com/example/ride-dispatch/internal/models"
)

type importFlags struct {
	dryRun    bool
	scheduled bool
}

func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Move queued rides into liveRides",
		Long: `Run one queue import pass.

--dry-run reports what would happen without writing. --scheduled behaves like
the daily job: it honours AdminMeta/config.dropEnabled and announces newly
available rides.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "compute stats without writing")
	cmd.Flags().BoolVar(&flags.scheduled, "scheduled", false, "run as the scheduled job")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "scheduled")
	return cmd
}

func runImport(cmd *cobra.Command, opts *RootOptions, flags *importFlags) error {
	ctx := cmd.Context()
	a, err := opts.Open(ctx, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var stats models.ImportStats
	if flags.scheduled {
		var ran bool
		stats, ran, err = a.Importer.RunScheduled(ctx, "cli")
		if err == nil && !ran {
			fmt.Fprintln(cmd.ErrOrStderr(), "import disabled by AdminMeta/config.dropEnabled")
			return nil
		}
	} else {
		stats, err = a.Importer.Run(ctx, importer.Options{Trigger: "cli", DryRun: flags.dryRun})
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return writeStats(cmd.OutOrStdout(), opts.Format, flags.dryRun, stats)
}

func writeStats(w io.Writer, format string, dryRun bool, s models.ImportStats) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(map[string]any{"ok": true, "dryRun": dryRun, "stats": s})
	}
	if dryRun {
		fmt.Fprintln(w, "dry run, nothing written")
	}
	rows := []struct {
		label string
		n     int
	}{
		{"live docs", s.LiveDocs},
		{"live unclaimed", s.LiveUnclaimed},
		{"queue total", s.QueueTotal},
		{"queue unclaimed", s.QueueUnclaimed},
		{"imported", s.Imported},
		{"updated existing", s.UpdatedExisting},
		{"duplicates found", s.DuplicatesFound},
		{"skipped no trip id", s.SkippedNoTripID},
		{"skipped claimed", s.SkippedClaimed},
		{"skipped claimed live", s.SkippedClaimedLive},
		{"write failures", s.WriteFailures},
		{"queue cleared", s.QueueCleared},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-22s %d\n", r.label, r.n); err != nil {
			return err
		}
	}
	return nil
}
