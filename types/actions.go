package types

import (
	"fmt"
	"sort"
	"strings"
)

// User action names understood by every store backend.
const (
	ActionAddTable         = "AddTable"
	ActionAddRecord        = "AddRecord"
	ActionUpdateRecord     = "UpdateRecord"
	ActionBulkUpdateRecord = "BulkUpdateRecord"
	ActionBulkRemoveRecord = "BulkRemoveRecord"
)

// RowRef stands for the row id returned by an earlier action of the same batch.
type RowRef struct {
	Action int
}

// UserAction is one store operation. A batch of them is applied as a unit.
type UserAction struct {
	Name    string
	TableID string
	// RowIDs holds the target rows. AddRecord uses at most one entry as an explicit id.
	RowIDs []int64
	// Fields is used by AddRecord and UpdateRecord.
	Fields map[string]interface{}
	// Columns is used by BulkUpdateRecord, positionally aligned with RowIDs.
	Columns map[string][]interface{}
	// ColIDs is used by AddTable.
	ColIDs []string
}

// AddTable declares a table and its columns.
func AddTable(tableID string, columns []string) UserAction {
	return UserAction{Name: ActionAddTable, TableID: tableID, ColIDs: columns}
}

// AddRecord creates one record. A zero rowID lets the store allocate it.
func AddRecord(tableID string, rowID int64, fields map[string]interface{}) UserAction {
	ua := UserAction{Name: ActionAddRecord, TableID: tableID, Fields: fields}
	if rowID != 0 {
		ua.RowIDs = []int64{rowID}
	}
	return ua
}

// UpdateRecord sets fields on a single record.
func UpdateRecord(tableID string, rowID int64, fields map[string]interface{}) UserAction {
	return UserAction{Name: ActionUpdateRecord, TableID: tableID, RowIDs: []int64{rowID}, Fields: fields}
}

// BulkUpdateRecord sets per-row values on many records.
func BulkUpdateRecord(tableID string, rowIDs []int64, columns map[string][]interface{}) UserAction {
	return UserAction{Name: ActionBulkUpdateRecord, TableID: tableID, RowIDs: rowIDs, Columns: columns}
}

// BulkRemoveRecord deletes many records.
func BulkRemoveRecord(tableID string, rowIDs []int64) UserAction {
	return UserAction{Name: ActionBulkRemoveRecord, TableID: tableID, RowIDs: rowIDs}
}

// Validate checks the shape of the action without touching any store.
func (ua UserAction) Validate() error {
	if ua.TableID == "" {
		return fmt.Errorf("%s: missing table id", ua.Name)
	}
	switch ua.Name {
	case ActionAddTable:
		if len(ua.ColIDs) == 0 {
			return fmt.Errorf("%s %s: no columns", ua.Name, ua.TableID)
		}
	case ActionAddRecord:
		if len(ua.RowIDs) > 1 {
			return fmt.Errorf("%s %s: at most one row id", ua.Name, ua.TableID)
		}
	case ActionUpdateRecord:
		if len(ua.RowIDs) != 1 {
			return fmt.Errorf("%s %s: exactly one row id required", ua.Name, ua.TableID)
		}
	case ActionBulkUpdateRecord:
		for col, values := range ua.Columns {
			if len(values) != len(ua.RowIDs) {
				return fmt.Errorf("%s %s: column %s has %d values for %d rows", ua.Name, ua.TableID, col, len(values), len(ua.RowIDs))
			}
		}
	case ActionBulkRemoveRecord:
	default:
		return fmt.Errorf("unsupported user action %q", ua.Name)
	}
	return nil
}

// String renders the action in the host's tuple notation, for logs.
func (ua UserAction) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s %s", ua.Name, ua.TableID)
	if len(ua.RowIDs) > 0 {
		fmt.Fprintf(&b, " %v", ua.RowIDs)
	}
	if len(ua.ColIDs) > 0 {
		fmt.Fprintf(&b, " %v", ua.ColIDs)
	}
	if len(ua.Fields) > 0 {
		fmt.Fprintf(&b, " %s", sortedKeys(ua.Fields))
	}
	if len(ua.Columns) > 0 {
		keys := make([]string, 0, len(ua.Columns))
		for k := range ua.Columns {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, " %v", keys)
	}
	b.WriteString("]")
	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
