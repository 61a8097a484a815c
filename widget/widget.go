// Package widget drives the action buttons of a record view: it turns record
// events into buttons and messages and clicks into action executions.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emanuelegissi/flowbuttons/events"
	"github.com/emanuelegissi/flowbuttons/types"
	"github.com/emanuelegissi/flowbuttons/workflow"
)

var (
	// ErrBusy is returned by Click while a previous click is still running.
	ErrBusy = errors.New("an action is already running")
	// ErrNoSuchButton is returned by Click for an index outside the current buttons.
	ErrNoSuchButton = errors.New("no such button")
	// ErrPending is returned by Click while the buttons of the record in view are being computed.
	ErrPending = errors.New("actions are still loading")
)

// Texts shown instead of buttons.
const (
	LoadingText   = "Loading..."
	NewRecordText = "New record"
)

// View is what the record view renders.
type View struct {
	Seq      uint64          `json:"seq"`
	RowID    int64           `json:"row,omitempty"`
	Pending  bool            `json:"pending,omitempty"`
	Buttons  []types.Button  `json:"buttons"`
	Messages []types.Message `json:"messages"`
}

// Widget holds the buttons for the record in view. It is safe for concurrent use.
type Widget struct {
	engine *workflow.Engine
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint64
	record   types.Record
	mapping  types.ColumnMapping
	rowID    int64
	actions  []workflow.ResolvedAction
	messages []types.Message
	alerts   []types.Message
	busy     bool
	pending  bool // buttons for seq not computed yet
}

// New creates a widget showing the loading message.
func New(engine *workflow.Engine) *Widget {
	return &Widget{
		engine:   engine,
		logger:   engine.Logger().With("component", "widget"),
		messages: []types.Message{{ID: 1, Text: LoadingText}},
	}
}

// OnRecord recomputes the buttons for record. Until that is done the view
// shows no buttons and clicks return ErrPending. Results computed for a record
// event older than the latest one are discarded. Load failures replace the
// buttons with a single message and are returned.
func (w *Widget) OnRecord(ctx context.Context, record types.Record, mapping types.ColumnMapping) error {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.record, w.mapping = record, mapping
	w.rowID = record.ID()
	w.actions = nil
	w.messages = []types.Message{{ID: record.ID(), Text: LoadingText}}
	w.alerts = nil
	w.pending = true
	w.mu.Unlock()

	if !mapping.Complete() {
		w.fail(seq, record.ID(), workflow.ErrMissingMapping)
		return workflow.ErrMissingMapping
	}

	actions, err := w.engine.Applicable(ctx, record, mapping)

	w.mu.Lock()
	if seq != w.seq {
		w.mu.Unlock()
		w.logger.Debug("stale record view discarded", "seq", seq, "row", record.ID())
		return nil
	}
	if err != nil {
		w.mu.Unlock()
		w.fail(seq, record.ID(), err)
		return err
	}
	w.actions = actions
	w.messages = recordMessages(record, mapping)
	w.pending = false
	w.mu.Unlock()

	w.engine.Publish(ctx, events.Event{
		Type:    events.RecordChanged,
		Seq:     seq,
		TableID: w.engine.Config().SelectedTable,
		RowID:   record.ID(),
		Data:    map[string]interface{}{"buttons": len(actions)},
	})
	return nil
}

// OnNewRecord clears the buttons when the view has no record.
func (w *Widget) OnNewRecord(ctx context.Context) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.record = nil
	w.rowID = 0
	w.actions = nil
	w.messages = []types.Message{{ID: 0, Text: NewRecordText}}
	w.alerts = nil
	w.pending = false
	w.mu.Unlock()

	w.engine.Publish(ctx, events.Event{Type: events.RecordCleared, Seq: seq, TableID: w.engine.Config().SelectedTable})
}

// Reload reloads the action definitions and recomputes the current record view.
func (w *Widget) Reload(ctx context.Context) error {
	if _, err := w.engine.Reload(ctx); err != nil {
		w.mu.Lock()
		seq := w.seq
		w.mu.Unlock()
		w.fail(seq, 0, err)
		return err
	}
	w.mu.Lock()
	record, mapping := w.record, w.mapping
	w.mu.Unlock()
	if record == nil {
		return nil
	}
	return w.OnRecord(ctx, record, mapping)
}

// Click executes the action behind button index. While it runs every button
// is disabled and further clicks return ErrBusy without doing anything.
// A failure adds an alert message and keeps the buttons.
func (w *Widget) Click(ctx context.Context, index int) error {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.pending {
		w.mu.Unlock()
		return ErrPending
	}
	if index < 0 || index >= len(w.actions) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoSuchButton, index)
	}
	action := w.actions[index]
	w.busy = true
	w.mu.Unlock()

	err := action.Invoke(ctx)

	w.mu.Lock()
	w.busy = false
	if err != nil {
		w.alerts = append(w.alerts, types.Message{ID: action.RowID(), Text: "ERROR: " + err.Error()})
	}
	w.mu.Unlock()
	return err
}

// ClickLabel clicks the first button with the given label.
func (w *Widget) ClickLabel(ctx context.Context, label string) error {
	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return ErrPending
	}
	index := -1
	for i, a := range w.actions {
		if a.Label == label {
			index = i
			break
		}
	}
	w.mu.Unlock()
	if index < 0 {
		return fmt.Errorf("%w: %q", ErrNoSuchButton, label)
	}
	return w.Click(ctx, index)
}

// View returns a snapshot of what to render.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{
		Seq:      w.seq,
		RowID:    w.rowID,
		Pending:  w.pending,
		Buttons:  make([]types.Button, len(w.actions)),
		Messages: make([]types.Message, 0, len(w.messages)+len(w.alerts)),
	}
	for i, a := range w.actions {
		v.Buttons[i] = a.Button(!w.busy)
	}
	v.Messages = append(v.Messages, w.messages...)
	v.Messages = append(v.Messages, w.alerts...)
	return v
}

// fail replaces the buttons with the error unless a newer record event arrived.
func (w *Widget) fail(seq uint64, rowID int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq != w.seq {
		return
	}
	w.logger.Error("record view failed", "seq", seq, "row", rowID, "err", err)
	w.rowID = rowID
	w.actions = nil
	w.messages = []types.Message{{ID: rowID, Text: err.Error()}}
	w.alerts = nil
	w.pending = false
}

func recordMessages(record types.Record, mapping types.ColumnMapping) []types.Message {
	v := record[mapping.Error]
	if !types.Truthy(v) {
		return nil
	}
	return []types.Message{{ID: record.ID(), Text: types.AsString(v)}}
}
