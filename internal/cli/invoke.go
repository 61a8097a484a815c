package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/emanuelegissi/flowbuttons/types"
	"github.com/emanuelegissi/flowbuttons/widget"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Yes bool
}

// InvokeResult is the JSON payload of invoke.
type InvokeResult struct {
	Action string       `json:"action"`
	RowID  int64        `json:"row"`
	Cursor int64        `json:"cursor,omitempty"`
	Record types.Record `json:"record,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <rowId> <label>",
		Short: "Execute an action on a record of the selected table",
		Long: `Execute the action with the given label, if it is offered for the record.
Confirmations are asked on the terminal unless --yes is given.

Example:
  flowbuttons invoke 1 Approve --yes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := parseRowID(args[0])
			if err != nil {
				return err
			}
			return runInvoke(cmd, opts, rowID, args[1])
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "answer yes to every confirmation")

	return cmd
}

func runInvoke(cmd *cobra.Command, opts *InvokeOptions, rowID int64, label string) error {
	s, err := openSession(cmd, opts.RootOptions, opts.Yes)
	if err != nil {
		return err
	}
	defer s.close()

	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if _, err := s.showRecord(cmd, rowID); err != nil {
		out.Failure(s.widget.View(), err)
		return err
	}

	if err := s.widget.ClickLabel(cmd.Context(), label); err != nil {
		out.Failure(s.widget.View(), err)
		if errors.Is(err, widget.ErrNoSuchButton) {
			return NewExitError(ExitFailure, fmt.Sprintf("action «%s» is not offered for row %d", label, rowID))
		}
		return WrapExitError(ExitFailure, "action failed", err)
	}

	res := InvokeResult{Action: label, RowID: rowID, Cursor: s.host.Cursor()}
	// The record may be gone after a delete.
	if rec, err := s.store.FetchRecord(cmd.Context(), s.cfg.Tables.Selected, rowID); err == nil {
		res.Record = rec
	}
	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "executed «%s» on %s %d\n", label, s.cfg.Tables.Selected, rowID)
		if res.Record != nil {
			fmt.Fprintf(w, "  %s: %s\n", s.cfg.Mapping.Status, types.AsString(res.Record[s.cfg.Mapping.Status]))
		} else {
			fmt.Fprintln(w, "  record deleted")
		}
		if res.Cursor != 0 {
			fmt.Fprintf(w, "  cursor: %d\n", res.Cursor)
		}
	})
}
