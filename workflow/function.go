package workflow

import (
	"context"

	"github.com/emanuelegissi/flowbuttons/types"
)

// Call is what a predicate or handler receives: the action being offered or
// executed, the record in view and the engine to act through.
type Call struct {
	Action  types.ActionDef
	Record  types.Record
	Table   string // table the record belongs to
	Mapping types.ColumnMapping
	Engine  *Engine
}

// RowID is the id of the record in view.
func (c *Call) RowID() int64 { return c.Record.ID() }

// Status is the record status as text.
func (c *Call) Status() string { return types.AsString(c.Record[c.Mapping.Status]) }

// Predicate decides whether an action is offered for a record.
type Predicate interface {
	Active(ctx context.Context, call *Call) (bool, error)
}

// PredicateFunc is a function adapter for Predicate.
type PredicateFunc func(ctx context.Context, call *Call) (bool, error)

// Active implements the Predicate interface.
func (f PredicateFunc) Active(ctx context.Context, call *Call) (bool, error) {
	return f(ctx, call)
}

// Handler runs when an action is clicked.
type Handler interface {
	Run(ctx context.Context, call *Call) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, call *Call) error

// Run implements the Handler interface.
func (f HandlerFunc) Run(ctx context.Context, call *Call) error {
	return f(ctx, call)
}

// Function is one named export of a module or builtin. Exactly one of
// Predicate and Handler is set.
type Function struct {
	Name      string
	Predicate Predicate
	Handler   Handler
}

// Kind returns "predicate" or "handler".
func (f Function) Kind() string {
	if f.Predicate != nil {
		return "predicate"
	}
	return "handler"
}

// Builtins are the functions resolvable by bare name.
type Builtins map[string]Function

// AddPredicate registers a bare-name predicate.
func (b Builtins) AddPredicate(name string, p Predicate) Builtins {
	b[name] = Function{Name: name, Predicate: p}
	return b
}

// AddHandler registers a bare-name handler.
func (b Builtins) AddHandler(name string, h Handler) Builtins {
	b[name] = Function{Name: name, Handler: h}
	return b
}

// Host is the surface the record is viewed on.
type Host interface {
	// SetCursor moves the view to a row of the selected table.
	SetCursor(ctx context.Context, rowID int64) error
	// Confirm asks the user a yes/no question.
	Confirm(ctx context.Context, text string) (bool, error)
}

// StaticHost answers every confirmation the same way and ignores cursor moves.
type StaticHost struct {
	Answer bool
}

// SetCursor implements Host.
func (StaticHost) SetCursor(context.Context, int64) error { return nil }

// Confirm implements Host.
func (h StaticHost) Confirm(context.Context, string) (bool, error) { return h.Answer, nil }
