package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emanuelegissi/flowbuttons/types"
	"github.com/emanuelegissi/flowbuttons/widget"
)

// NewActionsCommand creates the actions command.
func NewActionsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actions <rowId>",
		Short: "Print the buttons offered for a record of the selected table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := parseRowID(args[0])
			if err != nil {
				return err
			}
			return runActions(cmd, opts, rowID)
		},
	}
}

func runActions(cmd *cobra.Command, opts *RootOptions, rowID int64) error {
	s, err := openSession(cmd, opts, false)
	if err != nil {
		return err
	}
	defer s.close()

	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if _, err := s.showRecord(cmd, rowID); err != nil {
		out.Failure(s.widget.View(), err)
		return err
	}

	view := s.widget.View()
	return out.Success(view, func(w io.Writer) { writeView(w, s.cfg.Tables.Selected, view) })
}

// showRecord fetches rowID from the selected table and feeds it to the widget.
func (s *session) showRecord(cmd *cobra.Command, rowID int64) (types.Record, error) {
	table := s.cfg.Tables.Selected
	rec, err := s.store.FetchRecord(cmd.Context(), table, rowID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("cannot read row %d of %s", rowID, table), err)
	}
	if err := s.widget.OnRecord(cmd.Context(), rec, s.cfg.ColumnMapping()); err != nil {
		return rec, WrapExitError(ExitFailure, "cannot compute actions", err)
	}
	return rec, nil
}

func writeView(w io.Writer, table string, view widget.View) {
	fmt.Fprintf(w, "%s %d\n", table, view.RowID)
	for _, m := range view.Messages {
		fmt.Fprintf(w, "  ! %s\n", m.Text)
	}
	if len(view.Buttons) == 0 {
		fmt.Fprintln(w, "  (no actions)")
	}
	for _, b := range view.Buttons {
		line := "  [" + b.Label + "]"
		if b.Description != "" {
			line += " " + b.Description
		}
		fmt.Fprintln(w, line)
	}
}

func parseRowID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid row id %q", arg))
	}
	return id, nil
}
