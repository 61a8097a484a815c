package storage

import (
	"context"
	"errors"

	"github.com/emanuelegissi/flowbuttons/types"
)

// Errors
var (
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
	ErrRowNotFound   = errors.New("row not found")
	ErrRowExists     = errors.New("row already exists")
	ErrUnknownColumn = errors.New("unknown column")
	ErrBadRowRef     = errors.New("invalid row reference")
)

// Store is the tabular document store the workflow engine acts on.
type Store interface {
	// ListTables returns the ids of every table in the document.
	ListTables(ctx context.Context) ([]string, error)

	// FetchTable returns a column-oriented snapshot of a table, including the "id" column.
	FetchTable(ctx context.Context, tableID string) (types.TableData, error)

	// FetchRecord returns a single row.
	FetchRecord(ctx context.Context, tableID string, rowID int64) (types.Record, error)

	// CreateRecord adds a row and returns its id.
	CreateRecord(ctx context.Context, tableID string, fields map[string]interface{}) (int64, error)

	// ApplyBulkUpdate sets per-row values. Every column array is aligned with rowIDs.
	ApplyBulkUpdate(ctx context.Context, tableID string, rowIDs []int64, columns map[string][]interface{}) error

	// DestroyRecords deletes rows.
	DestroyRecords(ctx context.Context, tableID string, rowIDs []int64) error
}

// Batcher applies a list of user actions as one unit: either all of them take effect or none.
// The returned slice holds one value per action (the new row id for AddRecord, nil otherwise).
type Batcher interface {
	ApplyUserActions(ctx context.Context, actions []types.UserAction) ([]interface{}, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// The single-operation methods of every backend go through its batch path.

func createRecord(ctx context.Context, b Batcher, tableID string, fields map[string]interface{}) (int64, error) {
	results, err := b.ApplyUserActions(ctx, []types.UserAction{types.AddRecord(tableID, 0, fields)})
	if err != nil {
		return 0, err
	}
	id, _ := results[0].(int64)
	return id, nil
}

func bulkUpdate(ctx context.Context, b Batcher, tableID string, rowIDs []int64, columns map[string][]interface{}) error {
	if len(rowIDs) == 0 {
		return nil
	}
	_, err := b.ApplyUserActions(ctx, []types.UserAction{types.BulkUpdateRecord(tableID, rowIDs, columns)})
	return err
}

func destroyRecords(ctx context.Context, b Batcher, tableID string, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}
	_, err := b.ApplyUserActions(ctx, []types.UserAction{types.BulkRemoveRecord(tableID, rowIDs)})
	return err
}

// tablesOf lists the distinct tables touched by a batch, in first-use order.
func tablesOf(actions []types.UserAction) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range actions {
		if !seen[a.TableID] {
			seen[a.TableID] = true
			ids = append(ids, a.TableID)
		}
	}
	return ids
}
