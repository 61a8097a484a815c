package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/emanuelegissi/flowbuttons/types"
)

// table is the in-memory form of one document table, shared by every backend.
type table struct {
	columns []string
	rows    map[int64]map[string]interface{}
	nextID  int64
}

func newTable(columns []string) *table {
	return &table{
		columns: append([]string(nil), columns...),
		rows:    make(map[int64]map[string]interface{}),
		nextID:  1,
	}
}

func (t *table) clone() *table {
	c := &table{
		columns: append([]string(nil), t.columns...),
		rows:    make(map[int64]map[string]interface{}, len(t.rows)),
		nextID:  t.nextID,
	}
	for id, row := range t.rows {
		c.rows[id] = cloneFields(row)
	}
	return c
}

func (t *table) hasColumn(col string) bool {
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

func (t *table) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// data renders the table column-oriented, rows ordered by id.
func (t *table) data() types.TableData {
	ids := t.sortedIDs()
	out := make(types.TableData, len(t.columns)+1)
	idCol := make([]interface{}, len(ids))
	for i, id := range ids {
		idCol[i] = id
	}
	out["id"] = idCol
	for _, col := range t.columns {
		values := make([]interface{}, len(ids))
		for i, id := range ids {
			values[i] = cloneValue(t.rows[id][col])
		}
		out[col] = values
	}
	return out
}

func (t *table) record(id int64) (types.Record, bool) {
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	rec := make(types.Record, len(row)+1)
	for k, v := range cloneFields(row) {
		rec[k] = v
	}
	rec["id"] = id
	return rec, true
}

// batch applies user actions to lazily loaded copies of tables and records what changed,
// so that a backend can persist exactly the touched rows once every action succeeded.
type batch struct {
	load   func(tableID string) (*table, error) // nil, nil when the table does not exist
	nextID func(tableID string, t *table) (int64, error)

	tables  map[string]*table
	created map[string]bool
	meta    map[string]bool
	dirty   map[string]map[int64]bool
	removed map[string]map[int64]bool
}

func newBatch(load func(string) (*table, error)) *batch {
	return &batch{
		load:    load,
		tables:  make(map[string]*table),
		created: make(map[string]bool),
		meta:    make(map[string]bool),
		dirty:   make(map[string]map[int64]bool),
		removed: make(map[string]map[int64]bool),
	}
}

func (b *batch) table(tableID string) (*table, error) {
	if t, ok := b.tables[tableID]; ok {
		return t, nil
	}
	t, err := b.load(tableID)
	if err != nil {
		return nil, err
	}
	if t != nil {
		b.tables[tableID] = t
	}
	return t, nil
}

func (b *batch) mustTable(tableID string) (*table, error) {
	t, err := b.table(tableID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	return t, nil
}

func (b *batch) markDirty(tableID string, id int64) {
	if b.dirty[tableID] == nil {
		b.dirty[tableID] = make(map[int64]bool)
	}
	b.dirty[tableID][id] = true
	if rm := b.removed[tableID]; rm != nil {
		delete(rm, id)
	}
}

func (b *batch) markRemoved(tableID string, id int64) {
	if b.removed[tableID] == nil {
		b.removed[tableID] = make(map[int64]bool)
	}
	b.removed[tableID][id] = true
	if d := b.dirty[tableID]; d != nil {
		delete(d, id)
	}
}

// apply runs every action in order. On error the batch must be discarded.
func (b *batch) apply(actions []types.UserAction) ([]interface{}, error) {
	results := make([]interface{}, len(actions))
	for i, ua := range actions {
		if err := ua.Validate(); err != nil {
			return nil, err
		}
		resolved, err := resolveRefs(ua, results[:i])
		if err != nil {
			return nil, fmt.Errorf("action %d %s: %w", i, ua.Name, err)
		}
		res, err := b.applyOne(resolved)
		if err != nil {
			return nil, fmt.Errorf("action %d %s: %w", i, ua.Name, err)
		}
		results[i] = res
	}
	return results, nil
}

func (b *batch) applyOne(ua types.UserAction) (interface{}, error) {
	switch ua.Name {
	case types.ActionAddTable:
		existing, err := b.table(ua.TableID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s", ErrTableExists, ua.TableID)
		}
		b.tables[ua.TableID] = newTable(ua.ColIDs)
		b.created[ua.TableID] = true
		b.meta[ua.TableID] = true
		return nil, nil

	case types.ActionAddRecord:
		t, err := b.mustTable(ua.TableID)
		if err != nil {
			return nil, err
		}
		if err := checkColumns(t, ua.TableID, ua.Fields); err != nil {
			return nil, err
		}
		var id int64
		if len(ua.RowIDs) == 1 {
			id = ua.RowIDs[0]
			if _, exists := t.rows[id]; exists {
				return nil, fmt.Errorf("%w: %s/%d", ErrRowExists, ua.TableID, id)
			}
		} else {
			if b.nextID != nil {
				id, err = b.nextID(ua.TableID, t)
				if err != nil {
					return nil, fmt.Errorf("failed to generate row id: %w", err)
				}
			} else {
				id = t.nextID
			}
		}
		row := make(map[string]interface{}, len(t.columns))
		for _, col := range t.columns {
			row[col] = nil
		}
		for col, v := range ua.Fields {
			if col == "id" {
				continue
			}
			row[col] = cloneValue(v)
		}
		t.rows[id] = row
		if id >= t.nextID {
			t.nextID = id + 1
		}
		b.meta[ua.TableID] = true
		b.markDirty(ua.TableID, id)
		return id, nil

	case types.ActionUpdateRecord:
		t, err := b.mustTable(ua.TableID)
		if err != nil {
			return nil, err
		}
		if err := checkColumns(t, ua.TableID, ua.Fields); err != nil {
			return nil, err
		}
		id := ua.RowIDs[0]
		row, ok := t.rows[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, ua.TableID, id)
		}
		for col, v := range ua.Fields {
			if col == "id" {
				continue
			}
			row[col] = cloneValue(v)
		}
		b.markDirty(ua.TableID, id)
		return nil, nil

	case types.ActionBulkUpdateRecord:
		t, err := b.mustTable(ua.TableID)
		if err != nil {
			return nil, err
		}
		for col := range ua.Columns {
			if col == "id" || !t.hasColumn(col) {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, ua.TableID, col)
			}
		}
		for _, id := range ua.RowIDs {
			if _, ok := t.rows[id]; !ok {
				return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, ua.TableID, id)
			}
		}
		for i, id := range ua.RowIDs {
			row := t.rows[id]
			for col, values := range ua.Columns {
				row[col] = cloneValue(values[i])
			}
			b.markDirty(ua.TableID, id)
		}
		return nil, nil

	case types.ActionBulkRemoveRecord:
		t, err := b.mustTable(ua.TableID)
		if err != nil {
			return nil, err
		}
		for _, id := range ua.RowIDs {
			if _, ok := t.rows[id]; !ok {
				return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, ua.TableID, id)
			}
		}
		for _, id := range ua.RowIDs {
			delete(t.rows, id)
			b.markRemoved(ua.TableID, id)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported user action %q", ua.Name)
}

func checkColumns(t *table, tableID string, fields map[string]interface{}) error {
	for col := range fields {
		if col != "id" && !t.hasColumn(col) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, tableID, col)
		}
	}
	return nil
}

// resolveRefs replaces RowRef placeholders with ids returned by earlier actions.
func resolveRefs(ua types.UserAction, results []interface{}) (types.UserAction, error) {
	resolve := func(v interface{}) (interface{}, error) {
		ref, ok := v.(types.RowRef)
		if !ok {
			return v, nil
		}
		if ref.Action < 0 || ref.Action >= len(results) {
			return nil, fmt.Errorf("%w: action %d", ErrBadRowRef, ref.Action)
		}
		id, ok := results[ref.Action].(int64)
		if !ok {
			return nil, fmt.Errorf("%w: action %d returned no row id", ErrBadRowRef, ref.Action)
		}
		return id, nil
	}

	if ua.Fields != nil {
		fields := make(map[string]interface{}, len(ua.Fields))
		for k, v := range ua.Fields {
			r, err := resolve(v)
			if err != nil {
				return ua, err
			}
			fields[k] = r
		}
		ua.Fields = fields
	}
	if ua.Columns != nil {
		cols := make(map[string][]interface{}, len(ua.Columns))
		for k, values := range ua.Columns {
			out := make([]interface{}, len(values))
			for i, v := range values {
				r, err := resolve(v)
				if err != nil {
					return ua, err
				}
				out[i] = r
			}
			cols[k] = out
		}
		ua.Columns = cols
	}
	return ua, nil
}

func cloneFields(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies containers and normalizes numbers to int64 or float64,
// which is what every backend hands back.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int, int32, uint, uint32, uint64:
		if i, ok := types.AsInt64(t); ok {
			return i
		}
		return v
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []string:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case []int64:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]interface{}:
		return cloneFields(t)
	}
	return v
}
