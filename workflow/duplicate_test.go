package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelegissi/flowbuttons/storage"
	"github.com/emanuelegissi/flowbuttons/types"
)

func scratchStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(storage.WithGenerator(&MockGenerator{id: 41}))
	_, err := store.ApplyUserActions(context.Background(), []types.UserAction{
		types.AddTable("T", []string{"A", "B", "C"}),
	})
	require.NoError(t, err)
	return store
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	source := types.Record{"id": int64(1), "A": 1, "B": 2, "C": 3}

	t.Run("copies only the listed columns", func(t *testing.T) {
		inner := scratchStore(t)
		store := newRecordingStore(inner)
		host := &testHost{answer: true}
		e := newEngine(t, store, WithHost(host))

		id, err := e.Duplicate(ctx, DuplicateRequest{Table: "T", Source: source, Columns: []string{"A", "B", "id"}, SetCursor: true})
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)

		calls := store.mutations()
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]interface{}{"A": 1, "B": 2}, calls[0].Fields)
		assert.NotContains(t, calls[0].Fields, "C")

		rec := fetch(t, inner, "T", id)
		assert.Nil(t, rec["C"])
		assert.Equal(t, []int64{42}, host.cursor)
		assert.Empty(t, host.prompts, "no prompt without a confirmation text")
	})

	t.Run("declined confirmation creates nothing", func(t *testing.T) {
		store := newRecordingStore(scratchStore(t))
		host := &testHost{answer: false}
		e := newEngine(t, store, WithHost(host))

		id, err := e.Duplicate(ctx, DuplicateRequest{
			Table:       "T",
			Source:      source,
			Columns:     []string{"A", "B"},
			ConfirmText: "Copy?",
			SetCursor:   true,
		})
		require.NoError(t, err)
		assert.Zero(t, id)
		assert.Empty(t, store.mutations())
		assert.Equal(t, []string{"Copy?"}, host.prompts)
		assert.Empty(t, host.cursor)
	})

	t.Run("cursor stays without SetCursor", func(t *testing.T) {
		host := &testHost{answer: true}
		e := newEngine(t, scratchStore(t), WithHost(host))
		_, err := e.Duplicate(ctx, DuplicateRequest{Table: "T", Source: source, Columns: []string{"A"}, ConfirmText: "Copy?"})
		require.NoError(t, err)
		assert.Empty(t, host.cursor)
	})

	t.Run("store errors name the table", func(t *testing.T) {
		e := newEngine(t, scratchStore(t))
		_, err := e.Duplicate(ctx, DuplicateRequest{Table: "Missing", Source: source, Columns: []string{"A"}})
		assert.ErrorIs(t, err, storage.ErrTableNotFound)
		assert.Contains(t, err.Error(), "Cannot duplicate record in <Missing> table")
	})
}

func TestSplitSequential(t *testing.T) {
	ctx := context.Background()

	t.Run("moves unselected children to the copy", func(t *testing.T) {
		inner := seededStore(t)
		store := newRecordingStore(inner)
		host := &testHost{answer: true}
		e := newEngine(t, store, WithHost(host))

		actions, err := e.Applicable(ctx, fetch(t, store, "Requests", 1), testMapping)
		require.NoError(t, err)
		require.NoError(t, actionNamed(t, actions, "Split").Invoke(ctx))

		assert.Equal(t, []string{"Confirm «Split» on selected records only?\n(2 unselected)"}, host.prompts)
		assert.Equal(t, []storeCall{
			{
				Op:     "create",
				Table:  "Requests",
				Fields: map[string]interface{}{"Process": "P1", "Requested_by": "ann", "Status": "Draft"},
			},
			{
				Op:    "update",
				Table: "Goods",
				IDs:   []int64{7, 9},
				Columns: map[string][]interface{}{
					"Request": {int64(42), int64(42)},
					"Select":  {true, true},
				},
			},
			{
				Op:      "update",
				Table:   "Requests",
				IDs:     []int64{1},
				Columns: map[string][]interface{}{"Status": {"Ordered"}},
			},
		}, store.mutations())
		assert.Empty(t, host.cursor)
	})

	t.Run("empty unselected list only advances status", func(t *testing.T) {
		store := newRecordingStore(seededStore(t))
		host := &testHost{answer: true}
		e := newEngine(t, store, WithHost(host))

		actions, err := e.Applicable(ctx, fetch(t, store, "Requests", 3), testMapping)
		require.NoError(t, err)
		require.NoError(t, actionNamed(t, actions, "Split").Invoke(ctx))

		assert.Empty(t, host.prompts)
		assert.Equal(t, []storeCall{{
			Op:      "update",
			Table:   "Requests",
			IDs:     []int64{3},
			Columns: map[string][]interface{}{"Status": {"Ordered"}},
		}}, store.mutations())
	})

	t.Run("declined split changes nothing", func(t *testing.T) {
		store := newRecordingStore(seededStore(t))
		e := newEngine(t, store, WithHost(&testHost{answer: false}))

		actions, err := e.Applicable(ctx, fetch(t, store, "Requests", 1), testMapping)
		require.NoError(t, err)
		require.NoError(t, actionNamed(t, actions, "Split").Invoke(ctx))
		assert.Empty(t, store.mutations())
	})

	t.Run("failed reassignment keeps the duplicate", func(t *testing.T) {
		inner := seededStore(t)
		update(t, inner, "Requests", 1, map[string]interface{}{"Unsel_goods_ids": []interface{}{"L", int64(7), int64(404)}})
		store := newRecordingStore(inner)
		e := newEngine(t, store, WithHost(&testHost{answer: true}))

		actions, err := e.Applicable(ctx, fetch(t, store, "Requests", 1), testMapping)
		require.NoError(t, err)
		err = actionNamed(t, actions, "Split").Invoke(ctx)
		assert.ErrorIs(t, err, storage.ErrRowNotFound)

		assert.Equal(t, "P1", fetch(t, inner, "Requests", 42)["Process"], "no rollback on the sequential path")
		assert.Equal(t, "Draft", fetch(t, inner, "Requests", 1)["Status"])
	})
}

func TestSplitBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("applies one batch", func(t *testing.T) {
		store := seededStore(t)
		e := newEngine(t, store, WithHost(&testHost{answer: true}))

		res, err := e.Split(ctx, SplitRequest{
			Table:            "Requests",
			Source:           fetch(t, store, "Requests", 1),
			Columns:          []string{"Process", "Requested_by"},
			ChildTable:       "Goods",
			UnselectedColumn: "Unsel_goods_ids",
			ParentColumn:     "Request",
			SelectColumn:     "Select",
			StatusColumn:     "Status",
			EndStatus:        "Ordered",
			ConfirmText:      "Split?",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), res.NewID)
		assert.Equal(t, []int64{7, 9}, res.Moved)

		goods, err := store.FetchTable(ctx, "Goods")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(42), int64(1), int64(42)}, goods["Request"])
		assert.Equal(t, []interface{}{true, true, true}, goods["Select"])

		copied := fetch(t, store, "Requests", 42)
		assert.Equal(t, "P1", copied["Process"])
		assert.Equal(t, "ann", copied["Requested_by"])
		assert.Nil(t, copied["Status"])
		assert.Equal(t, "Ordered", fetch(t, store, "Requests", 1)["Status"])
	})

	t.Run("is atomic", func(t *testing.T) {
		store := seededStore(t)
		update(t, store, "Requests", 1, map[string]interface{}{"Unsel_goods_ids": []interface{}{int64(7), int64(404)}})
		e := newEngine(t, store, WithHost(&testHost{answer: true}))

		actions, err := e.Applicable(ctx, fetch(t, store, "Requests", 1), testMapping)
		require.NoError(t, err)
		err = actionNamed(t, actions, "Split").Invoke(ctx)
		assert.ErrorIs(t, err, storage.ErrRowNotFound)
		assert.Contains(t, err.Error(), "Cannot split record in <Requests> table")

		requests, err := store.FetchTable(ctx, "Requests")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, requests["id"])
		assert.Equal(t, "Draft", fetch(t, store, "Requests", 1)["Status"])
	})

	t.Run("rejects incomplete requests", func(t *testing.T) {
		e := newEngine(t, seededStore(t))
		_, err := e.Split(ctx, SplitRequest{Table: "Requests", Source: types.Record{"id": int64(1)}})
		assert.EqualError(t, err, "split: missing childTable, unselectedColumn, parentColumn, statusColumn")
	})
}
