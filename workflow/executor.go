package workflow

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/emanuelegissi/flowbuttons/events"
	"github.com/emanuelegissi/flowbuttons/tracing"
)

// Execute runs the handler of a resolved action. Handler errors and panics
// come back as *ActionError; mutations made before a failure are kept.
// Confirmation is up to the handler and a declined one returns nil.
func (e *Engine) Execute(ctx context.Context, ra ResolvedAction) (err error) {
	if ra.call == nil || ra.handler == nil {
		return ErrNoRecord
	}
	invocation := uuid.NewString()
	call := ra.call
	logger := e.logger.With("action", ra.Label, "invocation", invocation, "row", call.RowID())

	ctx, span := tracing.StartSpan(ctx, "action.execute")
	span.WithAttributes(map[string]string{"action": ra.Label, "invocation": invocation}).WithInt("row", call.RowID())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic occurred: %v", r)
		}
		ev := events.Event{
			Type:    events.ActionExecuted,
			TableID: call.Table,
			RowID:   call.RowID(),
			Data:    map[string]interface{}{"action": ra.Label, "invocation": invocation},
		}
		if err != nil {
			err = &ActionError{Label: ra.Label, Invocation: invocation, Err: err}
			logger.Error("action failed", "err", err)
			ev.Type = events.ActionFailed
			ev.Data["error"] = err.Error()
		} else {
			logger.Info("action executed")
		}
		tracing.EndSpan(span, err)
		e.Publish(ctx, ev)
	}()

	logger.Debug("executing action", "handler", ra.HandlerName)
	return ra.handler.Run(ctx, call)
}
