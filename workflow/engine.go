package workflow

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/emanuelegissi/flowbuttons/events"
	"github.com/emanuelegissi/flowbuttons/rules"
	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/types"
)

// Default table names.
const (
	DefaultActionsTable = "Actions"
	DefaultModulesTable = "Modules"
)

// Config names the tables the engine reads.
type Config struct {
	ActionsTable  string
	ModulesTable  string
	SelectedTable string // table holding the records buttons act on
}

func (c Config) withDefaults() Config {
	if c.ActionsTable == "" {
		c.ActionsTable = DefaultActionsTable
	}
	if c.ModulesTable == "" {
		c.ModulesTable = DefaultModulesTable
	}
	return c
}

// Engine owns the loaded registry and catalog for one document and runs
// actions against its store.
type Engine struct {
	store     storage.Store
	cfg       Config
	host      Host
	evaluator rules.Evaluator
	builtins  Builtins
	bus       *events.EventBus
	logger    *slog.Logger

	mu         sync.RWMutex
	generation uint64
	registry   *Registry
	catalog    *Catalog
	loads      singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithHost sets the surface confirmations and cursor moves go to.
func WithHost(h Host) Option {
	return func(e *Engine) { e.host = h }
}

// WithEvaluator replaces the expression evaluator used by module predicates.
func WithEvaluator(ev rules.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithBuiltins adds or overrides bare-name functions.
func WithBuiltins(b Builtins) Option {
	return func(e *Engine) {
		for name, fn := range b {
			e.builtins[name] = fn
		}
	}
}

// WithEventBus makes the engine publish its events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over store. Nothing is loaded until first use.
func New(store storage.Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.SelectedTable == "" {
		return nil, ErrTableRequired
	}
	e := &Engine{
		store:     store,
		cfg:       cfg.withDefaults(),
		host:      StaticHost{},
		evaluator: rules.NewExprEvaluator(),
		builtins:  DefaultBuiltins(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the store the engine acts on.
func (e *Engine) Store() storage.Store { return e.store }

// Config returns the table configuration.
func (e *Engine) Config() Config { return e.cfg }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Publish sends an event on the configured bus. Missing bus or subscribers are not errors.
func (e *Engine) Publish(ctx context.Context, ev events.Event) {
	if e.bus == nil || !e.bus.HasSubscribers(ev.Type) {
		return
	}
	if err := e.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("event dropped", "event", ev.Type, "err", err)
	}
}

// UpdateStatus sets the record status column to the action end status with one bulk update.
func (e *Engine) UpdateStatus(ctx context.Context, call *Call) error {
	id := call.RowID()
	if id == 0 {
		return ErrNoRecord
	}
	fields := map[string]interface{}{call.Mapping.Status: call.Action.EndStatus}
	return e.bulkUpdate(ctx, call.Table, []int64{id}, fields)
}

func (e *Engine) bulkUpdate(ctx context.Context, table string, ids []int64, fields map[string]interface{}) error {
	if err := e.store.ApplyBulkUpdate(ctx, table, ids, types.Broadcast(fields, len(ids))); err != nil {
		return wrapStoreErr("update records in", table, err)
	}
	return nil
}
