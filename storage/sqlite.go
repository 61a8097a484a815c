package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emanuelegissi/flowbuttons/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps a document in a SQLite file: one header row per table and one JSON row
// per record. Batches run inside a single SQL transaction.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// OpenSQLite creates or opens a SQLite database at the given path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) loadTable(ctx context.Context, q querier, tableID string) (*table, error) {
	var meta string
	err := q.QueryRowContext(ctx, `SELECT meta FROM doc_tables WHERE table_id = ?`, tableID).Scan(&meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", tableID, err)
	}
	t, err := decodeMeta([]byte(meta))
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT row_id, fields FROM doc_rows WHERE table_id = ?`, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", tableID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var fields string
		if err := rows.Scan(&id, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", tableID, err)
		}
		row, err := decodeRow([]byte(fields))
		if err != nil {
			return nil, fmt.Errorf("row %s/%d: %w", tableID, id, err)
		}
		t.rows[id] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows of %s: %w", tableID, err)
	}
	return t, nil
}

// ListTables returns the table ids in lexical order.
func (s *SQLiteStore) ListTables(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		rows, err := s.db.QueryContext(ctx, `SELECT table_id FROM doc_tables ORDER BY table_id`)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("failed to scan table id: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
}

// FetchTable returns a snapshot of a table.
func (s *SQLiteStore) FetchTable(ctx context.Context, tableID string) (types.TableData, error) {
	return withContext(ctx, func() (types.TableData, error) {
		t, err := s.loadTable(ctx, s.db, tableID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
		}
		return t.data(), nil
	})
}

// FetchRecord returns one row.
func (s *SQLiteStore) FetchRecord(ctx context.Context, tableID string, rowID int64) (types.Record, error) {
	return withContext(ctx, func() (types.Record, error) {
		var fields string
		err := s.db.QueryRowContext(ctx,
			`SELECT fields FROM doc_rows WHERE table_id = ? AND row_id = ?`, tableID, rowID).Scan(&fields)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, tableID, rowID)
		} else if err != nil {
			return nil, fmt.Errorf("failed to read row %s/%d: %w", tableID, rowID, err)
		}
		row, err := decodeRow([]byte(fields))
		if err != nil {
			return nil, err
		}
		rec := types.Record(row)
		rec["id"] = rowID
		return rec, nil
	})
}

// CreateRecord adds a row.
func (s *SQLiteStore) CreateRecord(ctx context.Context, tableID string, fields map[string]interface{}) (int64, error) {
	return createRecord(ctx, s, tableID, fields)
}

// ApplyBulkUpdate sets per-row values.
func (s *SQLiteStore) ApplyBulkUpdate(ctx context.Context, tableID string, rowIDs []int64, columns map[string][]interface{}) error {
	return bulkUpdate(ctx, s, tableID, rowIDs, columns)
}

// DestroyRecords deletes rows.
func (s *SQLiteStore) DestroyRecords(ctx context.Context, tableID string, rowIDs []int64) error {
	return destroyRecords(ctx, s, tableID, rowIDs)
}

// ApplyUserActions applies the batch inside one SQL transaction.
func (s *SQLiteStore) ApplyUserActions(ctx context.Context, actions []types.UserAction) ([]interface{}, error) {
	return withContext(ctx, func() ([]interface{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		b := newBatch(func(tableID string) (*table, error) {
			return s.loadTable(ctx, tx, tableID)
		})
		results, err := b.apply(actions)
		if err != nil {
			return nil, err
		}
		if err := s.persist(ctx, tx, b); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return results, nil
	})
}

func (s *SQLiteStore) persist(ctx context.Context, tx *sql.Tx, b *batch) error {
	for tableID := range b.meta {
		data, err := encodeMeta(b.tables[tableID])
		if err != nil {
			return fmt.Errorf("failed to marshal meta of %s: %w", tableID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doc_tables (table_id, meta) VALUES (?, ?)
			 ON CONFLICT(table_id) DO UPDATE SET meta = excluded.meta`, tableID, string(data)); err != nil {
			return fmt.Errorf("failed to write table %s: %w", tableID, err)
		}
	}
	for tableID, ids := range b.dirty {
		t := b.tables[tableID]
		for id := range ids {
			data, err := encodeRow(t.rows[id])
			if err != nil {
				return fmt.Errorf("failed to marshal row %s/%d: %w", tableID, id, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doc_rows (table_id, row_id, fields) VALUES (?, ?, ?)
				 ON CONFLICT(table_id, row_id) DO UPDATE SET fields = excluded.fields`,
				tableID, id, string(data)); err != nil {
				return fmt.Errorf("failed to write row %s/%d: %w", tableID, id, err)
			}
		}
	}
	for tableID, ids := range b.removed {
		for id := range ids {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM doc_rows WHERE table_id = ? AND row_id = ?`, tableID, id); err != nil {
				return fmt.Errorf("failed to delete row %s/%d: %w", tableID, id, err)
			}
		}
	}
	return nil
}
