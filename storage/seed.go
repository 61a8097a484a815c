package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/emanuelegissi/flowbuttons/types"
)

// Fixture is a YAML document describing tables and their rows:
//
//	tables:
//	  Requests:
//	    columns: [Process, Status]
//	    rows:
//	      - {id: 1, Process: P1, Status: Draft}
type Fixture struct {
	Tables map[string]FixtureTable `yaml:"tables"`
}

// FixtureTable is one table of a Fixture.
type FixtureTable struct {
	Columns []string                 `yaml:"columns"`
	Rows    []map[string]interface{} `yaml:"rows"`
}

// Seeder is a store that can also apply batches.
type Seeder interface {
	Store
	Batcher
}

// ParseFixture decodes a fixture document.
func ParseFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("failed to decode fixture: %w", err)
	}
	for name, t := range f.Tables {
		if len(t.Columns) == 0 {
			return Fixture{}, fmt.Errorf("fixture table %s has no columns", name)
		}
	}
	return f, nil
}

// Actions turns the fixture into user actions. Tables listed in existing are not re-created.
// Rows keep their explicit ids so references between fixture tables stay valid.
func (f Fixture) Actions(existing []string) ([]types.UserAction, error) {
	have := make(map[string]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}

	names := make([]string, 0, len(f.Tables))
	for name := range f.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var actions []types.UserAction
	for _, name := range names {
		t := f.Tables[name]
		if !have[name] {
			actions = append(actions, types.AddTable(name, t.Columns))
		}
		for i, row := range t.Rows {
			var id int64
			if raw, ok := row["id"]; ok {
				n, ok := types.AsInt64(raw)
				if !ok || n <= 0 {
					return nil, fmt.Errorf("fixture table %s row %d: invalid id %v", name, i, raw)
				}
				id = n
			}
			fields := make(map[string]interface{}, len(row))
			for k, v := range row {
				if k != "id" {
					fields[k] = v
				}
			}
			actions = append(actions, types.AddRecord(name, id, fields))
		}
	}
	return actions, nil
}

// Seed loads a fixture document into s in a single batch.
func Seed(ctx context.Context, s Seeder, r io.Reader) error {
	f, err := ParseFixture(r)
	if err != nil {
		return err
	}
	existing, err := s.ListTables(ctx)
	if err != nil {
		return err
	}
	actions, err := f.Actions(existing)
	if err != nil {
		return err
	}
	if _, err := s.ApplyUserActions(ctx, actions); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}
	return nil
}
