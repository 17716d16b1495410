package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisGrantStore keeps unlock grants as keys that expire with the grant.
type RedisGrantStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisGrantStore(client *redis.Client) *RedisGrantStore {
	return &RedisGrantStore{client: client, now: time.Now}
}

func redisGrantKey(userID, toiletID uuid.UUID) string {
	return "grant:" + grantKey(userID, toiletID)
}

func (r *RedisGrantStore) Put(ctx context.Context, userID, toiletID uuid.UUID, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Revoke(ctx, userID, toiletID)
	}
	return r.client.Set(ctx, redisGrantKey(userID, toiletID), expiresAt.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (r *RedisGrantStore) ExpiresAt(ctx context.Context, userID, toiletID uuid.UUID) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, redisGrantKey(userID, toiletID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	exp, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt grant value %q: %w", raw, err)
	}
	return exp, true, nil
}

func (r *RedisGrantStore) Revoke(ctx context.Context, userID, toiletID uuid.UUID) error {
	return r.client.Del(ctx, redisGrantKey(userID, toiletID)).Err()
}

// RedisAdSessionStore keeps pending ad sessions as JSON values. Take uses
// GETDEL so a session is redeemed by at most one callback.
type RedisAdSessionStore struct {
	client *redis.Client
}

func NewRedisAdSessionStore(client *redis.Client) *RedisAdSessionStore {
	return &RedisAdSessionStore{client: client}
}

func adSessionKey(id string) string {
	return "ad:" + id
}

func (r *RedisAdSessionStore) Put(ctx context.Context, s AdSession, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, adSessionKey(s.ID), raw, ttl).Err()
}

func (r *RedisAdSessionStore) Take(ctx context.Context, id string) (*AdSession, error) {
	raw, err := r.client.GetDel(ctx, adSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s AdSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt ad session %s: %w", id, err)
	}
	return &s, nil
}
