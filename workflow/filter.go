package workflow

import (
	"context"

	"github.com/emanuelegissi/flowbuttons/tracing"
	"github.com/emanuelegissi/flowbuttons/types"
)

// ResolvedAction is an action offered for one record. It is only valid for
// the record it was computed for.
type ResolvedAction struct {
	types.ActionDef
	call    *Call
	handler Handler
}

// Invoke runs the action through the executor. A zero ResolvedAction returns ErrNoRecord.
func (ra ResolvedAction) Invoke(ctx context.Context) error {
	if ra.call == nil {
		return ErrNoRecord
	}
	return ra.call.Engine.Execute(ctx, ra)
}

// RowID is the id of the record the action was resolved for.
func (ra ResolvedAction) RowID() int64 {
	if ra.call == nil {
		return 0
	}
	return ra.call.RowID()
}

// Button returns the renderable view of the action.
func (ra ResolvedAction) Button(enabled bool) types.Button {
	return types.Button{
		Label:       ra.Label,
		Description: ra.Description,
		Color:       ra.Color,
		Enabled:     enabled,
	}
}

// Applicable returns, in catalog order, the actions offered for record: its
// process must be listed, its status must match a non-empty start status, and
// the predicate, if any, must hold. A failing predicate aborts the pass with a
// *PredicateError.
func (e *Engine) Applicable(ctx context.Context, record types.Record, mapping types.ColumnMapping) (out []ResolvedAction, err error) {
	if !mapping.Complete() {
		return nil, ErrMissingMapping
	}
	cat, err := e.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "actions.filter")
	span.WithInt("row", record.ID())
	defer func() { tracing.EndSpan(span, err) }()

	process := types.AsString(record[mapping.Process])
	status := types.AsString(record[mapping.Status])
	for _, ent := range cat.entries {
		if !ent.def.HasProcess(process) {
			continue
		}
		if ent.def.StartStatus != "" && ent.def.StartStatus != status {
			continue
		}
		call := &Call{
			Action:  ent.def,
			Record:  record,
			Table:   e.cfg.SelectedTable,
			Mapping: mapping,
			Engine:  e,
		}
		if ent.predicate != nil {
			ok, err := ent.predicate.Active(ctx, call)
			if err != nil {
				return nil, &PredicateError{Label: ent.def.Label, Err: err}
			}
			if !ok {
				continue
			}
		}
		out = append(out, ResolvedAction{ActionDef: ent.def, call: call, handler: ent.handler})
	}
	return out, nil
}
