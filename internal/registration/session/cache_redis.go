package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "mkcompany/pkg/domain"
	"mkcompany/pkg/platform/sentinel"
)

const snapshotKeyPrefix = "mkcompany:wizard:"

// DefaultSnapshotTTL bounds how long an untouched wizard can be resumed.
const DefaultSnapshotTTL = 24 * time.Hour

// RedisCache stores snapshots as JSON with a sliding TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func snapshotKey(userID id.UserID) string {
	return snapshotKeyPrefix + userID.String()
}

func (r *RedisCache) Load(ctx context.Context, userID id.UserID) (*Snapshot, error) {
	raw, err := r.client.Get(ctx, snapshotKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisCache) Save(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, snapshotKey(snap.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID id.UserID) error {
	if err := r.client.Del(ctx, snapshotKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
