package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/emanuelegissi/flowbuttons/types"
)

const (
	defaultKeyPrefix = "flowbuttons:"
	maxTxRetries     = 5
)

// RedisStore is a Redis-backed implementation of the Store and Batcher interfaces.
//
// Layout, under the configured prefix:
//
//	tables              SET of table ids
//	table:<id>:meta     JSON {columns, next_id}
//	table:<id>:rows     HASH row id -> JSON fields
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// NewRedisStore creates a new RedisStore instance with configurable options.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) tablesKey() string {
	return s.prefix + "tables"
}

func (s *RedisStore) metaKey(tableID string) string {
	return s.prefix + "table:" + tableID + ":meta"
}

func (s *RedisStore) rowsKey(tableID string) string {
	return s.prefix + "table:" + tableID + ":rows"
}

// tableReader is satisfied by both *redis.Client and *redis.Tx, so loads work inside WATCH.
type tableReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func (s *RedisStore) loadTable(ctx context.Context, c tableReader, tableID string) (*table, error) {
	meta, err := c.Get(ctx, s.metaKey(tableID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get %s from Redis: %w", s.metaKey(tableID), err)
	}
	t, err := decodeMeta(meta)
	if err != nil {
		return nil, err
	}
	rows, err := c.HGetAll(ctx, s.rowsKey(tableID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from Redis: %w", s.rowsKey(tableID), err)
	}
	for field, data := range rows {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid row key %q in %s", field, s.rowsKey(tableID))
		}
		row, err := decodeRow([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("row %s/%d: %w", tableID, id, err)
		}
		t.rows[id] = row
	}
	return t, nil
}

// ListTables returns the table ids in lexical order.
func (s *RedisStore) ListTables(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		ids, err := s.client.SMembers(ctx, s.tablesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		sort.Strings(ids)
		return ids, nil
	})
}

// FetchTable returns a snapshot of a table.
func (s *RedisStore) FetchTable(ctx context.Context, tableID string) (types.TableData, error) {
	return withContext(ctx, func() (types.TableData, error) {
		t, err := s.loadTable(ctx, s.client, tableID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
		}
		return t.data(), nil
	})
}

// FetchRecord returns one row.
func (s *RedisStore) FetchRecord(ctx context.Context, tableID string, rowID int64) (types.Record, error) {
	return withContext(ctx, func() (types.Record, error) {
		data, err := s.client.HGet(ctx, s.rowsKey(tableID), strconv.FormatInt(rowID, 10)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, tableID, rowID)
		} else if err != nil {
			return nil, fmt.Errorf("failed to get row %s/%d from Redis: %w", tableID, rowID, err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		rec := types.Record(row)
		rec["id"] = rowID
		return rec, nil
	})
}

// CreateRecord adds a row.
func (s *RedisStore) CreateRecord(ctx context.Context, tableID string, fields map[string]interface{}) (int64, error) {
	return createRecord(ctx, s, tableID, fields)
}

// ApplyBulkUpdate sets per-row values.
func (s *RedisStore) ApplyBulkUpdate(ctx context.Context, tableID string, rowIDs []int64, columns map[string][]interface{}) error {
	return bulkUpdate(ctx, s, tableID, rowIDs, columns)
}

// DestroyRecords deletes rows.
func (s *RedisStore) DestroyRecords(ctx context.Context, tableID string, rowIDs []int64) error {
	return destroyRecords(ctx, s, tableID, rowIDs)
}

// ApplyUserActions watches every touched table, applies the batch locally and writes the
// changed rows in one MULTI/EXEC. A concurrent writer makes the transaction retry.
func (s *RedisStore) ApplyUserActions(ctx context.Context, actions []types.UserAction) ([]interface{}, error) {
	return withContext(ctx, func() ([]interface{}, error) {
		if len(actions) == 0 {
			return []interface{}{}, nil
		}
		var keys []string
		for _, id := range tablesOf(actions) {
			keys = append(keys, s.metaKey(id), s.rowsKey(id))
		}

		var results []interface{}
		txf := func(tx *redis.Tx) error {
			b := newBatch(func(tableID string) (*table, error) {
				return s.loadTable(ctx, tx, tableID)
			})
			res, err := b.apply(actions)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return s.persist(ctx, pipe, b)
			})
			if err != nil {
				return err
			}
			results = res
			return nil
		}

		for i := 0; i < maxTxRetries; i++ {
			err := s.client.Watch(ctx, txf, keys...)
			if err == nil {
				return results, nil
			}
			if errors.Is(err, redis.TxFailedErr) {
				continue
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply user actions after %d retries: %w", maxTxRetries, redis.TxFailedErr)
	})
}

func (s *RedisStore) persist(ctx context.Context, pipe redis.Pipeliner, b *batch) error {
	for tableID := range b.created {
		pipe.SAdd(ctx, s.tablesKey(), tableID)
	}
	for tableID := range b.meta {
		data, err := encodeMeta(b.tables[tableID])
		if err != nil {
			return fmt.Errorf("failed to marshal meta of %s: %w", tableID, err)
		}
		pipe.Set(ctx, s.metaKey(tableID), data, 0)
	}
	for tableID, ids := range b.dirty {
		t := b.tables[tableID]
		for id := range ids {
			data, err := encodeRow(t.rows[id])
			if err != nil {
				return fmt.Errorf("failed to marshal row %s/%d: %w", tableID, id, err)
			}
			pipe.HSet(ctx, s.rowsKey(tableID), strconv.FormatInt(id, 10), data)
		}
	}
	for tableID, ids := range b.removed {
		fields := make([]string, 0, len(ids))
		for id := range ids {
			fields = append(fields, strconv.FormatInt(id, 10))
		}
		if len(fields) > 0 {
			pipe.HDel(ctx, s.rowsKey(tableID), fields...)
		}
	}
	return nil
}

// Flush removes every key of this store. Used by tests and by `seed --reset`.
func (s *RedisStore) Flush(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.tablesKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	keys := []string{s.tablesKey()}
	for _, id := range ids {
		keys = append(keys, s.metaKey(id), s.rowsKey(id))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to flush store: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
