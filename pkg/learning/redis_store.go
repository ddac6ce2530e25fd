package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisPhraseKey   = "bulwark:phrases"   // hash: phrase text -> record JSON
	redisSnapshotKey = "bulwark:snapshots" // list: snapshot JSON, append order
)

// RedisStore persists the phrase table in a Redis hash and the snapshot log
// in a Redis list, so several gateway instances can share one learned table.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// SavePhrase implements PhraseStore.
func (rs *RedisStore) SavePhrase(ctx context.Context, p *Phrase) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return rs.client.HSet(ctx, redisPhraseKey, p.Text, data).Err()
}

// LoadPhrases implements PhraseStore.
func (rs *RedisStore) LoadPhrases(ctx context.Context) ([]*Phrase, error) {
	table, err := rs.client.HGetAll(ctx, redisPhraseKey).Result()
	if err != nil {
		return nil, fmt.Errorf("loading phrase table: %w", err)
	}
	out := make([]*Phrase, 0, len(table))
	for key, raw := range table {
		var p Phrase
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("corrupt phrase record %q: %w", key, err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// AppendSnapshot implements PhraseStore.
func (rs *RedisStore) AppendSnapshot(ctx context.Context, sn *Snapshot) error {
	data, err := json.Marshal(sn)
	if err != nil {
		return err
	}
	return rs.client.RPush(ctx, redisSnapshotKey, data).Err()
}

// LoadSnapshots implements PhraseStore.
func (rs *RedisStore) LoadSnapshots(ctx context.Context) ([]*Snapshot, error) {
	entries, err := rs.client.LRange(ctx, redisSnapshotKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading snapshot log: %w", err)
	}
	out := make([]*Snapshot, 0, len(entries))
	for i, raw := range entries {
		var sn Snapshot
		if err := json.Unmarshal([]byte(raw), &sn); err != nil {
			return nil, fmt.Errorf("corrupt snapshot entry %d: %w", i, err)
		}
		out = append(out, &sn)
	}
	return out, nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
