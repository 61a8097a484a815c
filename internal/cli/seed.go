package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Reset bool
}

// flusher is a store that can drop all of its tables.
type flusher interface {
	Flush(ctx context.Context) error
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Load a YAML fixture into the configured store",
		Long: `Load a YAML fixture into the configured store. Existing tables are kept
and the fixture rows are added to them.

Fixture format:
  tables:
    Requests:
      columns: [Process, Status]
      rows:
        - {id: 1, Process: P1, Status: Draft}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "drop every table first (redis only)")

	return cmd
}

func runSeed(cmd *cobra.Command, opts *SeedOptions, path string) error {
	s, err := openSession(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	if opts.Reset {
		f, ok := s.store.(flusher)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("storage backend %q does not support --reset", s.cfg.Storage.Backend))
		}
		if err := f.Flush(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to reset store", err)
		}
	}
	if err := seedFile(ctx, s.store, path); err != nil {
		return WrapExitError(ExitCommandError, "failed to seed store", err)
	}

	tables, err := s.store.ListTables(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list tables", err)
	}
	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(map[string]interface{}{"tables": tables}, func(w io.Writer) {
		fmt.Fprintf(w, "seeded %s: %d tables\n", path, len(tables))
	})
}
