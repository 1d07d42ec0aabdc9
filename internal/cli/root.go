// Package cli implements ridectl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/ride-dispatch/internal/app"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/logging"
)

// RootOptions holds global flags and the app factory shared by subcommands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Open builds the application. Tests replace it to run against an
	// in-memory store.
	Open func(ctx context.Context, logger *slog.Logger) (*app.App, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: openFromEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ridectl",
		Short: "Operate the ride dispatch engine",
		Long:  "ridectl runs queue imports on demand and inspects the last recorded import.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	return cmd
}

func openFromEnv(ctx context.Context, logger *slog.Logger) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// logger sends logs to stderr so JSON output on stdout stays parseable.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	return logging.New(w, level)
}
