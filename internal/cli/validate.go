package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emanuelegissi/flowbuttons/types"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load handler modules and actions and list the catalog",
		Long: `Load the handler modules table and the actions table, resolve every
action function and print the actions in catalog order.

Example:
  flowbuttons validate --seed document.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions) error {
	s, err := openSession(cmd, opts, false)
	if err != nil {
		return err
	}
	defer s.close()

	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
	ctx := cmd.Context()

	reg, err := s.engine.Registry(ctx)
	if err != nil {
		out.Failure(nil, err)
		return WrapExitError(ExitFailure, "validation failed", err)
	}
	catalog, err := s.engine.Catalog(ctx)
	if err != nil {
		out.Failure(nil, err)
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	actions := catalog.Actions()
	modules := reg.Modules()
	exports := make(map[string][]string, len(modules))
	for _, m := range modules {
		exports[m] = reg.Exports(m)
	}
	data := map[string]interface{}{
		"modules":  modules,
		"exports":  exports,
		"statuses": catalog.Statuses(),
		"actions":  actions,
	}
	return out.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "%d modules, %d actions\n", len(modules), len(actions))
		for _, m := range modules {
			fmt.Fprintf(w, "module %s: %s\n", m, strings.Join(exports[m], ", "))
		}
		fmt.Fprintf(w, "statuses: %s\n", strings.Join(catalog.Statuses(), ", "))
		for i, a := range actions {
			fmt.Fprintf(w, "%d. %s\n", i+1, describeAction(a))
		}
	})
}

func describeAction(a types.ActionDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s -> %s onclick=%s", a.Label, strings.Join(a.Processes, ","), orAny(a.StartStatus), orAny(a.EndStatus), a.HandlerName)
	if a.PredicateName != "" {
		fmt.Fprintf(&b, " isactive=%s", a.PredicateName)
	}
	return b.String()
}

func orAny(status string) string {
	if status == "" {
		return "*"
	}
	return status
}
