package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelegissi/flowbuttons/types"
)

const fixtureYAML = `
tables:
  Requests:
    columns: [Process, Status, Unsel_goods_ids, Error]
    rows:
      - {id: 1, Process: P1, Status: Draft, Unsel_goods_ids: [7, 9]}
      - {id: 2, Process: P2, Status: Open}
  Goods:
    columns: [Request, Select, Name]
    rows:
      - {id: 7, Request: 1, Select: false, Name: hammer}
      - {id: 8, Request: 1, Select: true, Name: saw}
      - {id: 9, Request: 1, Select: false, Name: drill}
`

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Seeder) {
	ctx := context.Background()

	seeded := func(t *testing.T) Seeder {
		s := newStore(t)
		require.NoError(t, Seed(ctx, s, strings.NewReader(fixtureYAML)))
		return s
	}

	t.Run("ListTables", func(t *testing.T) {
		s := seeded(t)
		tables, err := s.ListTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Goods", "Requests"}, tables)
	})

	t.Run("FetchTable", func(t *testing.T) {
		s := seeded(t)
		data, err := s.FetchTable(ctx, "Goods")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(7), int64(8), int64(9)}, data["id"])
		assert.Equal(t, []interface{}{"hammer", "saw", "drill"}, data["Name"])
		assert.Equal(t, []interface{}{int64(1), int64(1), int64(1)}, data["Request"])
		assert.Len(t, data, 4)

		_, err = s.FetchTable(ctx, "Missing")
		assert.ErrorIs(t, err, ErrTableNotFound)
	})

	t.Run("FetchRecord", func(t *testing.T) {
		s := seeded(t)
		rec, err := s.FetchRecord(ctx, "Requests", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.ID())
		assert.Equal(t, "Draft", rec["Status"])
		assert.Equal(t, []interface{}{int64(7), int64(9)}, rec["Unsel_goods_ids"])
		assert.Nil(t, rec["Error"])

		_, err = s.FetchRecord(ctx, "Requests", 99)
		assert.ErrorIs(t, err, ErrRowNotFound)
	})

	t.Run("CreateRecord", func(t *testing.T) {
		s := seeded(t)
		id, err := s.CreateRecord(ctx, "Requests", map[string]interface{}{"Process": "P1"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), id)

		rec, err := s.FetchRecord(ctx, "Requests", id)
		require.NoError(t, err)
		assert.Equal(t, "P1", rec["Process"])
		assert.Nil(t, rec["Status"])

		_, err = s.CreateRecord(ctx, "Requests", map[string]interface{}{"Nope": 1})
		assert.ErrorIs(t, err, ErrUnknownColumn)
		_, err = s.CreateRecord(ctx, "Missing", nil)
		assert.ErrorIs(t, err, ErrTableNotFound)
	})

	t.Run("ApplyBulkUpdate", func(t *testing.T) {
		s := seeded(t)
		err := s.ApplyBulkUpdate(ctx, "Goods", []int64{7, 9}, types.Broadcast(map[string]interface{}{
			"Request": int64(2),
			"Select":  true,
		}, 2))
		require.NoError(t, err)

		data, err := s.FetchTable(ctx, "Goods")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(2), int64(1), int64(2)}, data["Request"])
		assert.Equal(t, []interface{}{true, true, true}, data["Select"])

		err = s.ApplyBulkUpdate(ctx, "Goods", []int64{7, 100}, types.Broadcast(map[string]interface{}{"Select": false}, 2))
		assert.ErrorIs(t, err, ErrRowNotFound)
		rec, err := s.FetchRecord(ctx, "Goods", 7)
		require.NoError(t, err)
		assert.Equal(t, true, rec["Select"], "failed bulk update must not be partially applied")
	})

	t.Run("DestroyRecords", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.DestroyRecords(ctx, "Goods", []int64{8}))
		data, err := s.FetchTable(ctx, "Goods")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(7), int64(9)}, data["id"])

		assert.ErrorIs(t, s.DestroyRecords(ctx, "Goods", []int64{8}), ErrRowNotFound)
	})

	t.Run("BatchWithRowRef", func(t *testing.T) {
		s := seeded(t)
		results, err := s.ApplyUserActions(ctx, []types.UserAction{
			types.AddRecord("Requests", 0, map[string]interface{}{"Process": "P1", "Status": "Draft"}),
			types.BulkUpdateRecord("Goods", []int64{7, 9}, types.Broadcast(map[string]interface{}{
				"Request": types.RowRef{Action: 0},
				"Select":  true,
			}, 2)),
			types.UpdateRecord("Requests", 1, map[string]interface{}{"Status": "Approved"}),
		})
		require.NoError(t, err)
		require.Len(t, results, 3)
		newID := results[0].(int64)
		assert.Equal(t, int64(3), newID)

		data, err := s.FetchTable(ctx, "Goods")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{newID, int64(1), newID}, data["Request"])

		rec, err := s.FetchRecord(ctx, "Requests", 1)
		require.NoError(t, err)
		assert.Equal(t, "Approved", rec["Status"])
	})

	t.Run("BatchIsAtomic", func(t *testing.T) {
		s := seeded(t)
		_, err := s.ApplyUserActions(ctx, []types.UserAction{
			types.AddRecord("Requests", 0, map[string]interface{}{"Process": "P9"}),
			types.BulkUpdateRecord("Goods", []int64{7, 404}, types.Broadcast(map[string]interface{}{
				"Request": types.RowRef{Action: 0},
			}, 2)),
		})
		assert.ErrorIs(t, err, ErrRowNotFound)

		data, err := s.FetchTable(ctx, "Requests")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(1), int64(2)}, data["id"], "the duplicate must not survive a failed batch")
	})

	t.Run("BadRowRef", func(t *testing.T) {
		s := seeded(t)
		_, err := s.ApplyUserActions(ctx, []types.UserAction{
			types.UpdateRecord("Requests", 1, map[string]interface{}{"Status": "x"}),
			types.UpdateRecord("Requests", 2, map[string]interface{}{"Status": types.RowRef{Action: 0}}),
		})
		assert.ErrorIs(t, err, ErrBadRowRef)
	})

	t.Run("SeedTwiceKeepsTables", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, Seed(ctx, s, strings.NewReader(`
tables:
  T:
    columns: [a]
    rows: [{a: 1}]
`)))
		require.NoError(t, Seed(ctx, s, strings.NewReader(`
tables:
  T:
    columns: [a]
    rows: [{a: 2}]
`)))
		data, err := s.FetchTable(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, []interface{}{int64(1), int64(2)}, data["a"])
	})
}
