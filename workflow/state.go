package workflow

import (
	"context"
	"errors"

	"github.com/emanuelegissi/flowbuttons/events"
	"github.com/emanuelegissi/flowbuttons/tracing"
)

// Registry returns the loaded handler registry, loading it on first use.
// Concurrent first calls share one load.
func (e *Engine) Registry(ctx context.Context) (*Registry, error) {
	e.mu.RLock()
	reg, gen := e.registry, e.generation
	e.mu.RUnlock()
	if reg != nil {
		return reg, nil
	}

	// shared by every waiter
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := e.loads.Do("registry", func() (interface{}, error) {
		if reg := e.cachedRegistry(); reg != nil {
			return reg, nil
		}
		ctx, span := tracing.StartSpan(loadCtx, "registry.load")
		reg, err := e.loadRegistry(ctx)
		tracing.EndSpan(span, err)
		if err != nil {
			e.loadFailed(ctx, e.cfg.ModulesTable, err)
			return nil, err
		}
		e.mu.Lock()
		// a load begun before Reload returns its result but does not cache it
		if e.generation == gen {
			e.registry = reg
		}
		e.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Registry), nil
}

// Catalog returns the loaded action catalog, loading it (and the registry) on first use.
func (e *Engine) Catalog(ctx context.Context) (*Catalog, error) {
	e.mu.RLock()
	cat, gen := e.catalog, e.generation
	e.mu.RUnlock()
	if cat != nil {
		return cat, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := e.loads.Do("catalog", func() (interface{}, error) {
		if cat := e.cachedCatalog(); cat != nil {
			return cat, nil
		}
		reg, err := e.Registry(loadCtx)
		if err != nil {
			return nil, err
		}
		ctx, span := tracing.StartSpan(loadCtx, "catalog.load")
		cat, err := e.loadCatalog(ctx, reg)
		if err == nil {
			span.WithInt("actions", int64(cat.Len()))
		}
		tracing.EndSpan(span, err)
		if err != nil {
			e.loadFailed(ctx, e.cfg.ActionsTable, err)
			return nil, err
		}
		e.mu.Lock()
		if e.generation == gen {
			e.catalog = cat
		}
		e.mu.Unlock()

		e.logger.Info("catalog loaded", "table", e.cfg.ActionsTable, "actions", cat.Len())
		e.Publish(ctx, events.Event{
			Type:    events.CatalogLoaded,
			TableID: e.cfg.ActionsTable,
			Data:    map[string]interface{}{"actions": cat.Len()},
		})
		return cat, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

func (e *Engine) cachedRegistry() *Registry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry
}

func (e *Engine) cachedCatalog() *Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Reload drops the cached registry and catalog and loads both again.
func (e *Engine) Reload(ctx context.Context) (*Catalog, error) {
	e.mu.Lock()
	e.generation++
	e.registry = nil
	e.catalog = nil
	e.mu.Unlock()
	e.loads.Forget("registry")
	e.loads.Forget("catalog")
	return e.Catalog(ctx)
}

// CheckTables fails when the modules or actions table does not exist.
func (e *Engine) CheckTables(ctx context.Context) error {
	tables, err := e.store.ListTables(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[t] = true
	}
	for _, req := range []string{e.cfg.ModulesTable, e.cfg.ActionsTable} {
		if !have[req] {
			return loadErr(req, ErrMissingTable, nil, "Missing <%s> table", req)
		}
	}
	return nil
}

func (e *Engine) loadFailed(ctx context.Context, table string, err error) {
	data := map[string]interface{}{"error": err.Error()}
	var le *LoadError
	if errors.As(err, &le) {
		table = le.Table
		data["kind"] = le.Kind.Error()
	}
	e.logger.Error("load failed", "table", table, "err", err)
	e.Publish(ctx, events.Event{Type: events.LoadFailed, TableID: table, Data: data})
}
