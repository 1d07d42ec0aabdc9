package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var errNoRun = errors.New("no import run recorded")

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show the last recorded import",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rootOpts.Open(ctx, rootOpts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			last, ok, err := a.Importer.LastRun(ctx)
			if err != nil {
				return fmt.Errorf("read last run: %w", err)
			}
			if !ok {
				return errNoRun
			}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(out).Encode(last)
			}
			keys := make([]string, 0, len(last))
			for k := range last {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s: %v\n", k, last[k])
			}
			return nil
		},
	}
}
