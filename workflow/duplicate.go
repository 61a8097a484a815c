package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/types"
)

// DuplicateRequest describes a copy of Source into Table.
type DuplicateRequest struct {
	Table       string
	Source      types.Record
	Columns     []string // only these columns are copied; "id" never is
	ConfirmText string   // asked first when not empty
	SetCursor   bool
}

// Duplicate creates a record holding the projection of the source onto the
// requested columns. It returns 0 without error when the user declines.
func (e *Engine) Duplicate(ctx context.Context, req DuplicateRequest) (int64, error) {
	if req.Table == "" {
		return 0, errors.New("duplicate: table is required")
	}
	ok, err := e.confirm(ctx, req.ConfirmText)
	if err != nil || !ok {
		return 0, err
	}

	fields := req.Source.Project(req.Columns)
	id, err := e.store.CreateRecord(ctx, req.Table, fields)
	if err != nil {
		return 0, wrapStoreErr("duplicate record in", req.Table, err)
	}
	e.logger.Debug("record duplicated", "table", req.Table, "source", req.Source.ID(), "row", id)

	if req.SetCursor {
		if err := e.host.SetCursor(ctx, id); err != nil {
			return id, fmt.Errorf("moving cursor to row %d: %w", id, err)
		}
	}
	return id, nil
}

// SplitRequest forks Source: the children listed in its UnselectedColumn move
// to a duplicate of it, then Source advances to EndStatus.
type SplitRequest struct {
	Table            string
	Source           types.Record
	Columns          []string // columns copied to the duplicate
	ChildTable       string
	UnselectedColumn string // source column holding the child ids to move
	ParentColumn     string // child column referencing the parent
	SelectColumn     string // child flag set to true on moved rows, optional
	StatusColumn     string
	EndStatus        string
	ConfirmText      string // asked only when there are children to move
}

func (r SplitRequest) validate() error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"table", r.Table},
		{"childTable", r.ChildTable},
		{"unselectedColumn", r.UnselectedColumn},
		{"parentColumn", r.ParentColumn},
		{"statusColumn", r.StatusColumn},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("split: missing %s", strings.Join(missing, ", "))
	}
	if r.Source.ID() == 0 {
		return ErrNoRecord
	}
	return nil
}

// SplitResult reports what Split did.
type SplitResult struct {
	NewID    int64   // id of the duplicate, 0 when none was made
	Moved    []int64 // children re-parented to the duplicate
	Declined bool
}

// Split duplicates the source and re-parents its unselected children to the
// copy, then advances the source status. With no unselected children only the
// status advances. When the store is a storage.Batcher all three steps are one
// batch; otherwise they run in sequence and a failure after the duplicate
// leaves it in place.
func (e *Engine) Split(ctx context.Context, req SplitRequest) (SplitResult, error) {
	if err := req.validate(); err != nil {
		return SplitResult{}, err
	}
	ids, err := types.DecodeRowIDs(req.Source[req.UnselectedColumn])
	if err != nil {
		return SplitResult{}, fmt.Errorf("column <%s>: %w", req.UnselectedColumn, err)
	}
	sourceID := req.Source.ID()
	status := map[string]interface{}{req.StatusColumn: req.EndStatus}

	if len(ids) == 0 {
		return SplitResult{}, e.bulkUpdate(ctx, req.Table, []int64{sourceID}, status)
	}

	ok, err := e.confirm(ctx, req.ConfirmText)
	if err != nil {
		return SplitResult{}, err
	}
	if !ok {
		return SplitResult{Declined: true}, nil
	}

	fields := req.Source.Project(req.Columns)
	if b, ok := e.store.(storage.Batcher); ok {
		newID, err := e.splitBatch(ctx, b, req, ids, fields, status)
		if err != nil {
			return SplitResult{}, err
		}
		return SplitResult{NewID: newID, Moved: ids}, nil
	}

	newID, err := e.store.CreateRecord(ctx, req.Table, fields)
	if err != nil {
		return SplitResult{}, wrapStoreErr("add record in", req.Table, err)
	}
	if err := e.bulkUpdate(ctx, req.ChildTable, ids, childFields(req, newID)); err != nil {
		e.logger.Warn("split left a duplicate without children", "table", req.Table, "row", newID, "err", err)
		return SplitResult{NewID: newID}, err
	}
	if err := e.bulkUpdate(ctx, req.Table, []int64{sourceID}, status); err != nil {
		return SplitResult{NewID: newID, Moved: ids}, err
	}
	return SplitResult{NewID: newID, Moved: ids}, nil
}

func (e *Engine) splitBatch(ctx context.Context, b storage.Batcher, req SplitRequest, ids []int64, fields, status map[string]interface{}) (int64, error) {
	actions := []types.UserAction{
		types.AddRecord(req.Table, 0, fields),
		types.BulkUpdateRecord(req.ChildTable, ids, types.Broadcast(childFields(req, types.RowRef{Action: 0}), len(ids))),
		types.BulkUpdateRecord(req.Table, []int64{req.Source.ID()}, types.Broadcast(status, 1)),
	}
	results, err := b.ApplyUserActions(ctx, actions)
	if err != nil {
		return 0, wrapStoreErr("split record in", req.Table, err)
	}
	newID, _ := results[0].(int64)
	return newID, nil
}

func childFields(req SplitRequest, parent interface{}) map[string]interface{} {
	fields := map[string]interface{}{req.ParentColumn: parent}
	if req.SelectColumn != "" {
		fields[req.SelectColumn] = true
	}
	return fields
}

func (e *Engine) confirm(ctx context.Context, text string) (bool, error) {
	if text == "" {
		return true, nil
	}
	ok, err := e.host.Confirm(ctx, text)
	if err != nil {
		return false, fmt.Errorf("confirmation: %w", err)
	}
	if !ok {
		e.logger.Debug("confirmation declined", "prompt", text)
	}
	return ok, nil
}

// expandPrompt fills the {label} and {count} placeholders of a confirmation text.
func expandPrompt(text string, action types.ActionDef, count int) string {
	return strings.NewReplacer("{label}", action.Label, "{count}", strconv.Itoa(count)).Replace(text)
}

func wrapStoreErr(verb, table string, err error) error {
	return fmt.Errorf("Cannot %s <%s> table: %w", verb, table, err)
}
