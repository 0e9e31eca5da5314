// Package redis provides a Redis-backed order projection store.
//
// Each record is a JSON document at <prefix>:order:<id>. The ids are also
// members of the sorted set <prefix>:orders, all with score 0, so ZRANGE
// returns them in lexical order.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/AshkanYarmoradi/orderstream/adapters"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "orderstream"

const maxUpsertAttempts = 10

var (
	_ adapters.ProjectionStore = (*ProjectionStore)(nil)
	_ adapters.HealthChecker   = (*ProjectionStore)(nil)
)

// Option configures a ProjectionStore.
type Option func(*ProjectionStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *ProjectionStore) {
		s.prefix = prefix
	}
}

// ProjectionStore keeps order projection records in Redis.
type ProjectionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewProjectionStore creates a projection store on an existing client.
func NewProjectionStore(client redis.UniversalClient, opts ...Option) *ProjectionStore {
	s := &ProjectionStore{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr string, opts ...Option) (*ProjectionStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("orderstream/redis: failed to connect to %s: %w", addr, err)
	}
	return NewProjectionStore(client, opts...), nil
}

func (s *ProjectionStore) recordKey(orderID string) string {
	return s.prefix + ":order:" + orderID
}

func (s *ProjectionStore) indexKey() string {
	return s.prefix + ":orders"
}

// Upsert creates or overwrites the record keyed by OrderID unless the stored
// document has a higher version. The check and the write run under WATCH and
// are retried when another client touches the key in between.
func (s *ProjectionStore) Upsert(ctx context.Context, record *adapters.OrderRecord) error {
	if record == nil || record.OrderID == "" {
		return adapters.ErrEmptyAggregateID
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("orderstream/redis: failed to marshal record: %w", err)
	}

	key := s.recordKey(record.OrderID)
	write := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			stored, err := decodeRecord(current)
			if err != nil {
				return err
			}
			if stored.Version > record.Version {
				return adapters.ErrStaleRecord
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: record.OrderID})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err = s.client.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, adapters.ErrStaleRecord):
		return err
	default:
		return adapters.NewStoreError("projection upsert", fmt.Errorf("orderstream/redis: %w", err))
	}
}

// Get returns the record, or ErrRecordNotFound.
func (s *ProjectionStore) Get(ctx context.Context, orderID string) (*adapters.OrderRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, adapters.ErrRecordNotFound
	}
	if err != nil {
		return nil, adapters.NewStoreError("projection get", fmt.Errorf("orderstream/redis: %w", err))
	}
	return decodeRecord(data)
}

// List returns the records matching the filter, ordered by OrderID.
func (s *ProjectionStore) List(ctx context.Context, filter adapters.RecordFilter) ([]*adapters.OrderRecord, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, adapters.NewStoreError("projection list", fmt.Errorf("orderstream/redis: %w", err))
	}
	if len(ids) == 0 {
		return []*adapters.OrderRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, adapters.NewStoreError("projection list", fmt.Errorf("orderstream/redis: %w", err))
	}

	records := make([]*adapters.OrderRecord, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// index entry without a document; skipped until the next upsert or delete
			continue
		}
		record, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	return adapters.Page(records, filter), nil
}

// Delete removes a record.
func (s *ProjectionStore) Delete(ctx context.Context, orderID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(orderID))
	pipe.ZRem(ctx, s.indexKey(), orderID)
	if _, err := pipe.Exec(ctx); err != nil {
		return adapters.NewStoreError("projection delete", fmt.Errorf("orderstream/redis: %w", err))
	}
	return nil
}

// Clear removes all records under the prefix.
func (s *ProjectionStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return adapters.NewStoreError("projection clear", fmt.Errorf("orderstream/redis: %w", err))
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}
	keys = append(keys, s.indexKey())

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return adapters.NewStoreError("projection clear", fmt.Errorf("orderstream/redis: %w", err))
	}
	return nil
}

// Ping checks the connection.
func (s *ProjectionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *ProjectionStore) Close() error {
	return s.client.Close()
}

func decodeRecord(data []byte) (*adapters.OrderRecord, error) {
	var record adapters.OrderRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("orderstream/redis: failed to unmarshal record: %w", err)
	}
	return &record, nil
}
