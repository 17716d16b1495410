package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/redis/go-redis/v9"
)

const stateUpdateRetries = 5

var ErrStateContention = errors.New("device state changed concurrently, retries exhausted")

// RedisStateStore keeps one install's DeviceGeoState as JSON under
// geo:<install>. Updates are optimistic WATCH/MULTI transactions.
type RedisStateStore struct {
	client *redis.Client
	key    string
}

func NewRedisStateStore(client *redis.Client, installID string) *RedisStateStore {
	return &RedisStateStore{client: client, key: "geo:" + installID}
}

func (s *RedisStateStore) Load(ctx context.Context) (reminder.DeviceGeoState, error) {
	return s.read(ctx, s.client)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStateStore) read(ctx context.Context, g getter) (reminder.DeviceGeoState, error) {
	var st reminder.DeviceGeoState
	raw, err := g.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("load device state: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode device state: %w", err)
	}
	return st, nil
}

func (s *RedisStateStore) Update(ctx context.Context, fn func(*reminder.DeviceGeoState) error) error {
	txf := func(tx *redis.Tx) error {
		st, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		raw, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < stateUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrStateContention
}
