package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix prefixes every redis key written by RedisStore.
const KeyPrefix = "sumstream:history:"

// RedisStore keeps each peer's history in a capped redis list that expires TTL
// after the last session.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxPerPeer int
}

// NewRedisStore creates a RedisStore on an existing client. The store owns
// the client and closes it in Close.
//
// Parameters:
//   - client: A connected redis client
//   - ttl: How long a peer's history survives without new sessions
//   - maxPerPeer: Entries kept per peer; values <= 0 mean unbounded
//
// Returns:
//   - A new RedisStore
func NewRedisStore(client *redis.Client, ttl time.Duration, maxPerPeer int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxPerPeer: maxPerPeer}
}

// Key returns the redis key holding peer's history.
func Key(peer string) string {
	return KeyPrefix + peer
}

// Record implements Store. The push, trim and expire run in one transaction.
func (r *RedisStore) Record(ctx context.Context, peer string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	key := Key(peer)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		if r.maxPerPeer > 0 {
			pipe.LTrim(ctx, key, 0, int64(r.maxPerPeer-1))
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record session for %s: %w", peer, err)
	}

	return nil
}

// Recent implements Store.
func (r *RedisStore) Recent(ctx context.Context, peer string) ([]Entry, error) {
	vals, err := r.client.LRange(ctx, Key(peer), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", peer, err)
	}

	entries := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// Clear implements Store. Only keys under KeyPrefix are removed.
func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}

	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
