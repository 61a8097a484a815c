package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/types"
)

// Columns the modules table must have.
var moduleColumns = []string{"active", "name", "js"}

// Registry maps module names to their exported functions, and falls back to
// the builtins for bare names.
type Registry struct {
	modules  map[string]map[string]Function
	builtins Builtins
}

// Modules returns the loaded module names in lexical order.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exports returns the function names of a loaded module in lexical order.
func (r *Registry) Exports(module string) []string {
	fns := r.modules[module]
	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up "module.function" in the loaded modules, or a bare name in the builtins.
func (r *Registry) Resolve(name string) (Function, error) {
	switch strings.Count(name, ".") {
	case 0:
		if name == "" {
			break
		}
		if fn, ok := r.builtins[name]; ok {
			return fn, nil
		}
	case 1:
		mod, fnName, _ := strings.Cut(name, ".")
		if fn, ok := r.modules[mod][fnName]; ok {
			return fn, nil
		}
	}
	return Function{}, fmt.Errorf("%w: Function <%s> not found", ErrUnresolved, name)
}

// ModuleDefs reads the modules table. Only the table and column checks apply here;
// inactive rows are returned too.
func ModuleDefs(ctx context.Context, store storage.Store, table string) ([]types.ModuleDef, error) {
	data, err := fetchTable(ctx, store, table, moduleColumns)
	if err != nil {
		return nil, err
	}
	defs := make([]types.ModuleDef, 0, data.Len())
	for i := 0; i < data.Len(); i++ {
		row := data.Row(i)
		defs = append(defs, types.ModuleDef{
			ID:     row.ID(),
			Name:   types.AsString(row["name"]),
			Source: types.AsString(row["js"]),
			Active: types.Truthy(row["active"]),
		})
	}
	return defs, nil
}

func (e *Engine) loadRegistry(ctx context.Context) (*Registry, error) {
	if err := e.CheckTables(ctx); err != nil {
		return nil, err
	}
	table := e.cfg.ModulesTable
	defs, err := ModuleDefs(ctx, e.store, table)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		modules:  make(map[string]map[string]Function),
		builtins: e.builtins,
	}
	for _, def := range defs {
		if !def.Active {
			continue
		}
		if _, dup := reg.modules[def.Name]; def.Name == "" || dup {
			return nil, loadErr(table, ErrBadModuleName, nil, "Empty or duplicated name <%s> in <%s> table", def.Name, table)
		}
		fns, err := compileModule(def, e.evaluator)
		if err != nil {
			return nil, loadErr(table, ErrModuleEval, err, "While importing <%s> module", def.Name)
		}
		reg.modules[def.Name] = fns
		e.logger.Debug("module loaded", "module", def.Name, "functions", len(fns))
	}
	return reg, nil
}

// fetchTable loads a definition table and checks it has the required columns.
func fetchTable(ctx context.Context, store storage.Store, table string, required []string) (types.TableData, error) {
	data, err := store.FetchTable(ctx, table)
	if errors.Is(err, storage.ErrTableNotFound) {
		return nil, loadErr(table, ErrMissingTable, nil, "Missing <%s> table", table)
	}
	if err != nil {
		return nil, fmt.Errorf("While getting <%s> table data: %w", table, err)
	}
	for _, col := range required {
		if _, ok := data[col]; !ok {
			return nil, loadErr(table, ErrMissingColumn, nil, "Missing column <%s> in <%s> table", col, table)
		}
	}
	return data, nil
}
