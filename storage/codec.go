package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// tableMeta is the persisted header of a table in the Redis and SQLite backends.
type tableMeta struct {
	Columns []string `json:"columns"`
	NextID  int64    `json:"next_id"`
}

func encodeRow(row map[string]interface{}) ([]byte, error) {
	return json.Marshal(row)
}

// decodeRow restores a persisted row. Numbers come back as int64 when integral,
// float64 otherwise, matching what the memory backend returns.
func decodeRow(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row map[string]interface{}
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return cloneFields(row), nil
}

func encodeMeta(t *table) ([]byte, error) {
	return json.Marshal(tableMeta{Columns: t.columns, NextID: t.nextID})
}

func decodeMeta(data []byte) (*table, error) {
	var m tableMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal table meta: %w", err)
	}
	t := newTable(m.Columns)
	if m.NextID > 0 {
		t.nextID = m.NextID
	}
	return t, nil
}
