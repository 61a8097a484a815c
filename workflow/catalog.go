package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/emanuelegissi/flowbuttons/types"
)

// Columns the actions table must have.
var actionColumns = []string{
	"processes", "label", "desc", "color", "isactive", "onclick",
	"start_status", "end_status", "id", "manualSort",
}

// Catalog is the validated, ordered action list with resolved functions.
// It does not change until the engine reloads.
type Catalog struct {
	entries []catalogEntry
}

type catalogEntry struct {
	def       types.ActionDef
	predicate Predicate // nil when the action is always active
	handler   Handler
}

// Len returns the number of actions.
func (c *Catalog) Len() int { return len(c.entries) }

// Actions returns the action definitions in catalog order.
func (c *Catalog) Actions() []types.ActionDef {
	defs := make([]types.ActionDef, len(c.entries))
	for i, ent := range c.entries {
		defs[i] = ent.def
	}
	return defs
}

// Statuses returns the distinct statuses the catalog moves records between, in catalog order.
func (c *Catalog) Statuses() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ent := range c.entries {
		for _, s := range []string{ent.def.StartStatus, ent.def.EndStatus} {
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func (e *Engine) loadCatalog(ctx context.Context, reg *Registry) (*Catalog, error) {
	table := e.cfg.ActionsTable
	data, err := fetchTable(ctx, e.store, table, actionColumns)
	if err != nil {
		return nil, err
	}

	entries := make([]catalogEntry, 0, data.Len())
	for i := 0; i < data.Len(); i++ {
		def, err := decodeAction(table, data.Row(i))
		if err != nil {
			return nil, err
		}
		ent := catalogEntry{def: def}

		fn, err := resolve(reg, table, def, def.HandlerName)
		if err != nil {
			return nil, err
		}
		if fn.Handler == nil {
			return nil, loadErr(table, ErrUnresolved, nil, "Getting function <%s> of <%s> action: not a handler", def.HandlerName, def.Label)
		}
		ent.handler = fn.Handler

		if def.PredicateName != "" {
			fn, err := resolve(reg, table, def, def.PredicateName)
			if err != nil {
				return nil, err
			}
			if fn.Predicate == nil {
				return nil, loadErr(table, ErrUnresolved, nil, "Getting function <%s> of <%s> action: not a predicate", def.PredicateName, def.Label)
			}
			ent.predicate = fn.Predicate
		}
		entries = append(entries, ent)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].def.SortKey < entries[j].def.SortKey
	})
	return &Catalog{entries: entries}, nil
}

func resolve(reg *Registry, table string, def types.ActionDef, name string) (Function, error) {
	fn, err := reg.Resolve(name)
	if err != nil {
		return Function{}, &LoadError{
			Table: table,
			Msg:   fmt.Sprintf("Getting function <%s> of <%s> action", name, def.Label),
			Kind:  ErrUnresolved,
			Cause: err,
		}
	}
	return fn, nil
}

// decodeAction turns one actions table row into an ActionDef.
func decodeAction(table string, row types.Record) (types.ActionDef, error) {
	def := types.ActionDef{
		ID:            row.ID(),
		Label:         types.AsString(row["label"]),
		StartStatus:   types.AsString(row["start_status"]),
		EndStatus:     types.AsString(row["end_status"]),
		PredicateName: types.AsString(row["isactive"]),
		HandlerName:   types.AsString(row["onclick"]),
		Color:         types.AsString(row["color"]),
		Description:   types.AsString(row["desc"]),
	}
	def.SortKey, _ = types.AsFloat64(row["manualSort"])

	if def.Label == "" {
		return def, loadErr(table, ErrMissingLabel, nil, "Missing label in action %d", def.ID)
	}
	processes, err := types.DecodeChoiceList(row["processes"])
	if err != nil {
		return def, loadErr(table, ErrBadChoiceList, err, "<%s> table <processes> column is not a <Choice List>", table)
	}
	if len(processes) == 0 {
		return def, loadErr(table, ErrBadChoiceList, nil, "No processes in <%s> action", def.Label)
	}
	def.Processes = processes
	if def.HandlerName == "" {
		return def, loadErr(table, ErrMissingHandler, nil, "Missing onclick fn in <%s> action", def.Label)
	}

	known := make(map[string]bool, len(actionColumns))
	for _, col := range actionColumns {
		known[col] = true
	}
	for col, v := range row {
		if !known[col] {
			if def.Extra == nil {
				def.Extra = make(map[string]interface{})
			}
			def.Extra[col] = v
		}
	}
	return def, nil
}
