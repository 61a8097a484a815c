package widget

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelegissi/flowbuttons/events"
	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/types"
	"github.com/emanuelegissi/flowbuttons/workflow"
)

const fixture = `
tables:
  Requests:
    columns: [Process, Status, Error]
    rows:
      - {id: 1, Process: P1, Status: Draft}
      - {id: 2, Process: P1, Status: Draft, Error: "missing date"}
  Modules:
    columns: [active, name, js]
  Actions:
    columns: [processes, label, desc, color, isactive, onclick, start_status, end_status, manualSort]
    rows:
      - {id: 1, processes: [L, P1], label: Approve, color: green, isactive: gate, onclick: updateStatus, start_status: Draft, end_status: Approved, manualSort: 1}
      - {id: 2, processes: [L, P1], label: Hold, onclick: slow, manualSort: 2}
      - {id: 3, processes: [L, P1], label: Fail, onclick: failing, manualSort: 3}
`

var mapping = types.ColumnMapping{Process: "Process", Status: "Status", Error: "Error"}

// hooks lets a test block the gate predicate and the slow handler.
type hooks struct {
	gateRow int64
	gateIn  chan struct{}
	gateOut chan struct{}
	slowIn  chan struct{}
	slowOut chan struct{}
}

func newHooks() *hooks {
	return &hooks{
		gateIn:  make(chan struct{}, 1),
		gateOut: make(chan struct{}),
		slowIn:  make(chan struct{}, 1),
		slowOut: make(chan struct{}),
	}
}

func (h *hooks) builtins() workflow.Builtins {
	return workflow.Builtins{}.
		AddPredicate("gate", workflow.PredicateFunc(func(ctx context.Context, call *workflow.Call) (bool, error) {
			if h.gateRow != 0 && call.RowID() == h.gateRow {
				h.gateIn <- struct{}{}
				<-h.gateOut
			}
			return true, nil
		})).
		AddHandler("slow", workflow.HandlerFunc(func(ctx context.Context, call *workflow.Call) error {
			h.slowIn <- struct{}{}
			<-h.slowOut
			return nil
		})).
		AddHandler("failing", workflow.HandlerFunc(func(ctx context.Context, call *workflow.Call) error {
			return storage.ErrRowNotFound
		}))
}

func newWidget(t *testing.T, h *hooks, opts ...workflow.Option) (*Widget, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, storage.Seed(context.Background(), store, strings.NewReader(fixture)))
	opts = append([]workflow.Option{workflow.WithBuiltins(h.builtins())}, opts...)
	e, err := workflow.New(store, workflow.Config{SelectedTable: "Requests"}, opts...)
	require.NoError(t, err)
	return New(e), store
}

func record(t *testing.T, store storage.Store, id int64) types.Record {
	t.Helper()
	rec, err := store.FetchRecord(context.Background(), "Requests", id)
	require.NoError(t, err)
	return rec
}

func labels(v View) []string {
	out := make([]string, len(v.Buttons))
	for i, b := range v.Buttons {
		out[i] = b.Label
	}
	return out
}

func TestInitialView(t *testing.T) {
	w, _ := newWidget(t, newHooks())
	v := w.View()
	assert.Empty(t, v.Buttons)
	assert.Equal(t, []types.Message{{ID: 1, Text: LoadingText}}, v.Messages)
}

func TestOnRecord(t *testing.T) {
	ctx := context.Background()
	w, store := newWidget(t, newHooks())

	require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))
	v := w.View()
	assert.Equal(t, uint64(1), v.Seq)
	assert.Equal(t, int64(1), v.RowID)
	assert.Equal(t, []string{"Approve", "Hold", "Fail"}, labels(v))
	assert.Equal(t, types.Button{Label: "Approve", Color: "green", Enabled: true}, v.Buttons[0])
	assert.Empty(t, v.Messages)

	require.NoError(t, w.OnRecord(ctx, record(t, store, 2), mapping))
	v = w.View()
	assert.Equal(t, uint64(2), v.Seq)
	assert.Equal(t, []types.Message{{ID: 2, Text: "missing date"}}, v.Messages)
}

func TestOnRecordMissingMapping(t *testing.T) {
	w, store := newWidget(t, newHooks())
	err := w.OnRecord(context.Background(), record(t, store, 1), types.ColumnMapping{Process: "Process"})
	assert.ErrorIs(t, err, workflow.ErrMissingMapping)

	v := w.View()
	assert.Empty(t, v.Buttons)
	assert.Equal(t, []types.Message{{ID: 1, Text: "Missing column mapping in widget settings"}}, v.Messages)
}

func TestOnRecordLoadFailure(t *testing.T) {
	ctx := context.Background()
	w, store := newWidget(t, newHooks())
	_, err := store.ApplyUserActions(ctx, []types.UserAction{
		types.UpdateRecord("Actions", 2, map[string]interface{}{"onclick": "nowhere"}),
	})
	require.NoError(t, err)

	err = w.OnRecord(ctx, record(t, store, 1), mapping)
	require.Error(t, err)
	assert.True(t, workflow.IsLoadFailure(err))

	v := w.View()
	assert.Empty(t, v.Buttons)
	require.Len(t, v.Messages, 1)
	assert.Contains(t, v.Messages[0].Text, "Getting function <nowhere> of <Hold> action")
}

func TestOnNewRecord(t *testing.T) {
	ctx := context.Background()
	w, store := newWidget(t, newHooks())
	require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))

	w.OnNewRecord(ctx)
	v := w.View()
	assert.Empty(t, v.Buttons)
	assert.Zero(t, v.RowID)
	assert.Equal(t, []types.Message{{ID: 0, Text: NewRecordText}}, v.Messages)
	assert.ErrorIs(t, w.Click(ctx, 0), ErrNoSuchButton)
}

func TestStaleRecordIsDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHooks()
	h.gateRow = 1
	w, store := newWidget(t, h)
	first, second := record(t, store, 1), record(t, store, 2)

	done := make(chan error, 1)
	go func() { done <- w.OnRecord(ctx, first, mapping) }()
	<-h.gateIn

	require.NoError(t, w.OnRecord(ctx, second, mapping))
	close(h.gateOut)
	require.NoError(t, <-done)

	v := w.View()
	assert.Equal(t, uint64(2), v.Seq)
	assert.Equal(t, int64(2), v.RowID)
	assert.Equal(t, []types.Message{{ID: 2, Text: "missing date"}}, v.Messages)
}

func TestPendingRecordHasNoButtons(t *testing.T) {
	ctx := context.Background()
	h := newHooks()
	h.gateRow = 2
	w, store := newWidget(t, h)
	require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))

	done := make(chan error, 1)
	go func() { done <- w.OnRecord(ctx, record(t, store, 2), mapping) }()
	<-h.gateIn

	v := w.View()
	assert.True(t, v.Pending)
	assert.Equal(t, int64(2), v.RowID)
	assert.Empty(t, v.Buttons, "buttons of row 1 are gone while row 2 is filtered")
	assert.Equal(t, []types.Message{{ID: 2, Text: LoadingText}}, v.Messages)
	assert.ErrorIs(t, w.ClickLabel(ctx, "Approve"), ErrPending)
	assert.ErrorIs(t, w.Click(ctx, 0), ErrPending)

	close(h.gateOut)
	require.NoError(t, <-done)
	assert.Equal(t, "Draft", record(t, store, 1)["Status"], "row 1 untouched")
	assert.Equal(t, "Draft", record(t, store, 2)["Status"])

	v = w.View()
	assert.False(t, v.Pending)
	assert.Equal(t, []string{"Approve", "Hold", "Fail"}, labels(v))
	require.NoError(t, w.ClickLabel(ctx, "Approve"))
	assert.Equal(t, "Approved", record(t, store, 2)["Status"])
	assert.Equal(t, "Draft", record(t, store, 1)["Status"])
}

func TestClick(t *testing.T) {
	ctx := context.Background()

	t.Run("runs the action", func(t *testing.T) {
		w, store := newWidget(t, newHooks())
		require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))
		require.NoError(t, w.ClickLabel(ctx, "Approve"))
		assert.Equal(t, "Approved", record(t, store, 1)["Status"])
	})

	t.Run("failure adds an alert", func(t *testing.T) {
		w, store := newWidget(t, newHooks())
		require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))

		err := w.Click(ctx, 2)
		assert.ErrorIs(t, err, storage.ErrRowNotFound)

		v := w.View()
		assert.Len(t, v.Buttons, 3, "buttons survive a failed click")
		assert.Equal(t, []types.Message{{ID: 1, Text: "ERROR: Cannot execute «Fail»: row not found"}}, v.Messages)

		require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))
		assert.Empty(t, w.View().Messages, "alerts are cleared by the next record")
	})

	t.Run("unknown button", func(t *testing.T) {
		w, store := newWidget(t, newHooks())
		require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))
		assert.ErrorIs(t, w.Click(ctx, 7), ErrNoSuchButton)
		assert.ErrorIs(t, w.ClickLabel(ctx, "Launch"), ErrNoSuchButton)
	})

	t.Run("is exclusive while running", func(t *testing.T) {
		h := newHooks()
		w, store := newWidget(t, h)
		require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))

		done := make(chan error, 1)
		go func() { done <- w.ClickLabel(ctx, "Hold") }()
		<-h.slowIn

		for _, b := range w.View().Buttons {
			assert.False(t, b.Enabled, "%s enabled while busy", b.Label)
		}
		assert.ErrorIs(t, w.Click(ctx, 0), ErrBusy)
		assert.Equal(t, "Draft", record(t, store, 1)["Status"], "ignored click did nothing")

		close(h.slowOut)
		require.NoError(t, <-done)
		for _, b := range w.View().Buttons {
			assert.True(t, b.Enabled)
		}
	})
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	w, store := newWidget(t, newHooks())
	require.NoError(t, w.Reload(ctx), "reload without a record")
	require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))

	_, err := store.ApplyUserActions(ctx, []types.UserAction{types.BulkRemoveRecord("Actions", []int64{3})})
	require.NoError(t, err)
	assert.Equal(t, []string{"Approve", "Hold", "Fail"}, labels(w.View()))

	require.NoError(t, w.Reload(ctx))
	assert.Equal(t, []string{"Approve", "Hold"}, labels(w.View()))
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	bus := events.NewEventBus()

	var mu sync.Mutex
	var got []events.Event
	bus.SubscribeAll([]string{events.RecordChanged, events.RecordCleared}, events.EventHandlerFunc(func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	}))

	w, store := newWidget(t, newHooks(), workflow.WithEventBus(bus))
	require.NoError(t, w.OnRecord(ctx, record(t, store, 1), mapping))
	w.OnNewRecord(ctx)
	bus.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events.RecordChanged, got[0].Type)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, int64(1), got[0].RowID)
	assert.Equal(t, "Requests", got[0].TableID)
	assert.Equal(t, 3, got[0].Data["buttons"])
	assert.Equal(t, events.RecordCleared, got[1].Type)
	assert.Equal(t, uint64(2), got[1].Seq)
}
