package workflow

import (
	"context"
	"errors"

	"github.com/emanuelegissi/flowbuttons/types"
)

// handlerKinds are the handler kinds a module manifest can name. Each factory
// consumes its "with" parameters and fails on bad ones.
var handlerKinds = map[string]func(p params) (Handler, error){
	"updateStatus": newStatusHandler,
	"addRecord":    newAddRecordHandler,
	"delRecord":    newDelRecordHandler,
	"duplicate":    newDuplicateHandler,
	"split":        newSplitHandler,
	"update":       newUpdateHandler,
}

// DefaultBuiltins returns the functions resolvable by bare name.
func DefaultBuiltins() Builtins {
	return Builtins{}.
		AddPredicate("isValid", PredicateFunc(isValid)).
		AddHandler("addRecord", addRecordHandler{setCursor: true}).
		AddHandler("delRecord", delRecordHandler{confirm: "Delete record?"}).
		AddHandler("updateStatus", statusHandler{}).
		AddHandler("duplicateRecord", duplicateHandler{confirm: "Confirm <{label}>?", setCursor: true})
}

// isValid holds when the record error column is empty.
func isValid(_ context.Context, call *Call) (bool, error) {
	return !types.Truthy(call.Record[call.Mapping.Error]), nil
}

func tableOf(configured string, call *Call) string {
	if configured != "" {
		return configured
	}
	return call.Table
}

type statusHandler struct {
	confirm string
}

func newStatusHandler(p params) (Handler, error) {
	confirm, err := p.str("confirm", "")
	return statusHandler{confirm: confirm}, err
}

func (h statusHandler) Run(ctx context.Context, call *Call) error {
	ok, err := call.Engine.confirm(ctx, expandPrompt(h.confirm, call.Action, 1))
	if err != nil || !ok {
		return err
	}
	return call.Engine.UpdateStatus(ctx, call)
}

type addRecordHandler struct {
	table     string
	confirm   string
	setCursor bool
}

func newAddRecordHandler(p params) (Handler, error) {
	var h addRecordHandler
	var err error
	if h.table, err = p.str("table", ""); err != nil {
		return nil, err
	}
	if h.confirm, err = p.str("confirm", ""); err != nil {
		return nil, err
	}
	if h.setCursor, err = p.flag("setCursor", true); err != nil {
		return nil, err
	}
	return h, nil
}

func (h addRecordHandler) Run(ctx context.Context, call *Call) error {
	e := call.Engine
	ok, err := e.confirm(ctx, expandPrompt(h.confirm, call.Action, 1))
	if err != nil || !ok {
		return err
	}
	table := tableOf(h.table, call)
	id, err := e.store.CreateRecord(ctx, table, map[string]interface{}{})
	if err != nil {
		return wrapStoreErr("add record in", table, err)
	}
	if h.setCursor {
		return e.host.SetCursor(ctx, id)
	}
	return nil
}

type delRecordHandler struct {
	table   string
	confirm string
}

func newDelRecordHandler(p params) (Handler, error) {
	var h delRecordHandler
	var err error
	if h.table, err = p.str("table", ""); err != nil {
		return nil, err
	}
	if h.confirm, err = p.str("confirm", "Delete record?"); err != nil {
		return nil, err
	}
	return h, nil
}

func (h delRecordHandler) Run(ctx context.Context, call *Call) error {
	e := call.Engine
	id := call.RowID()
	if id == 0 {
		return ErrNoRecord
	}
	ok, err := e.confirm(ctx, expandPrompt(h.confirm, call.Action, 1))
	if err != nil || !ok {
		return err
	}
	table := tableOf(h.table, call)
	if err := e.store.DestroyRecords(ctx, table, []int64{id}); err != nil {
		return wrapStoreErr("delete records in", table, err)
	}
	return nil
}

type duplicateHandler struct {
	table     string
	columns   []string
	confirm   string
	setCursor bool
}

func newDuplicateHandler(p params) (Handler, error) {
	var h duplicateHandler
	var err error
	if h.table, err = p.str("table", ""); err != nil {
		return nil, err
	}
	if h.columns, err = p.list("columns"); err != nil {
		return nil, err
	}
	if h.confirm, err = p.str("confirm", ""); err != nil {
		return nil, err
	}
	if h.setCursor, err = p.flag("setCursor", true); err != nil {
		return nil, err
	}
	return h, nil
}

func (h duplicateHandler) Run(ctx context.Context, call *Call) error {
	columns := h.columns
	if columns == nil {
		columns = call.Mapping.Duplicate
	}
	_, err := call.Engine.Duplicate(ctx, DuplicateRequest{
		Table:       tableOf(h.table, call),
		Source:      call.Record,
		Columns:     columns,
		ConfirmText: expandPrompt(h.confirm, call.Action, 1),
		SetCursor:   h.setCursor,
	})
	return err
}

const defaultSplitPrompt = "Confirm «{label}» on selected records only?\n({count} unselected)"

type splitHandler struct {
	table            string
	columns          []string
	childTable       string
	unselectedColumn string
	parentColumn     string
	selectColumn     string
	confirm          string
}

func newSplitHandler(p params) (Handler, error) {
	var h splitHandler
	var err error
	if h.table, err = p.str("table", ""); err != nil {
		return nil, err
	}
	if h.columns, err = p.list("columns"); err != nil {
		return nil, err
	}
	if h.childTable, err = p.requiredStr("childTable"); err != nil {
		return nil, err
	}
	if h.unselectedColumn, err = p.requiredStr("unselectedColumn"); err != nil {
		return nil, err
	}
	if h.parentColumn, err = p.requiredStr("parentColumn"); err != nil {
		return nil, err
	}
	if h.selectColumn, err = p.str("selectColumn", ""); err != nil {
		return nil, err
	}
	if h.confirm, err = p.str("confirm", defaultSplitPrompt); err != nil {
		return nil, err
	}
	return h, nil
}

func (h splitHandler) Run(ctx context.Context, call *Call) error {
	columns := h.columns
	if columns == nil {
		columns = call.Mapping.Duplicate
	}
	ids, err := types.DecodeRowIDs(call.Record[h.unselectedColumn])
	if err != nil {
		return err
	}
	res, err := call.Engine.Split(ctx, SplitRequest{
		Table:            tableOf(h.table, call),
		Source:           call.Record,
		Columns:          columns,
		ChildTable:       h.childTable,
		UnselectedColumn: h.unselectedColumn,
		ParentColumn:     h.parentColumn,
		SelectColumn:     h.selectColumn,
		StatusColumn:     call.Mapping.Status,
		EndStatus:        call.Action.EndStatus,
		ConfirmText:      expandPrompt(h.confirm, call.Action, len(ids)),
	})
	if err == nil && res.NewID != 0 {
		call.Engine.Logger().Info("record split", "action", call.Action.Label, "row", call.RowID(), "copy", res.NewID, "moved", len(res.Moved))
	}
	return err
}

type updateHandler struct {
	fields  map[string]interface{}
	advance bool
	confirm string
}

func newUpdateHandler(p params) (Handler, error) {
	var h updateHandler
	var err error
	if h.fields, err = p.mapping("fields"); err != nil {
		return nil, err
	}
	if len(h.fields) == 0 {
		return nil, errors.New("with.fields is required")
	}
	if h.advance, err = p.flag("advance", false); err != nil {
		return nil, err
	}
	if h.confirm, err = p.str("confirm", ""); err != nil {
		return nil, err
	}
	return h, nil
}

// Run writes the configured fields and, when advancing, the end status in the same bulk update.
func (h updateHandler) Run(ctx context.Context, call *Call) error {
	e := call.Engine
	id := call.RowID()
	if id == 0 {
		return ErrNoRecord
	}
	ok, err := e.confirm(ctx, expandPrompt(h.confirm, call.Action, 1))
	if err != nil || !ok {
		return err
	}
	fields := make(map[string]interface{}, len(h.fields)+1)
	for k, v := range h.fields {
		fields[k] = v
	}
	if h.advance {
		fields[call.Mapping.Status] = call.Action.EndStatus
	}
	return e.bulkUpdate(ctx, call.Table, []int64{id}, fields)
}
