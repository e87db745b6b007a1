package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// saveScript writes the result with a TTL, indexes it by finish time and
// trims the index to the capacity and TTL window in one round trip.
var saveScript = redis.NewScript(`
	local key = KEYS[1]
	local index = KEYS[2]
	local data = ARGV[1]
	local ttl = ARGV[2]
	local score = ARGV[3]
	local id = ARGV[4]
	local cutoff = ARGV[5]
	local keep = ARGV[6]
	redis.call('SET', key, data, 'PX', ttl)
	redis.call('ZADD', index, score, id)
	redis.call('ZREMRANGEBYSCORE', index, '-inf', '(' .. cutoff)
	redis.call('ZREMRANGEBYRANK', index, 0, keep)
	redis.call('PEXPIRE', index, ttl)
	return 1
`)

// RedisStore exports results to Redis as JSON strings with a TTL plus a
// sorted-set index ordered by finish time.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	capacity int
}

// NewRedisStore creates a Redis-backed store. Keys are
// <prefix>:result:<id> and the index is <prefix>:results.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, capacity int) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		capacity: capacity,
	}
}

func (s *RedisStore) key(id string) string { return s.prefix + ":result:" + id }
func (s *RedisStore) indexKey() string     { return s.prefix + ":results" }

func (s *RedisStore) Save(ctx context.Context, r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	score := r.FinishedAt.UnixMilli()
	err = saveScript.Run(ctx, s.client,
		[]string{s.key(r.ID), s.indexKey()},
		data, s.ttl.Milliseconds(), score, r.ID,
		score-s.ttl.Milliseconds(), -(s.capacity + 1)).Err()
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", r.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Result, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &r, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*Result, error) {
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	if len(ids) == 0 {
		return []*Result{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch results: %w", err)
	}

	out := make([]*Result, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var r Result
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			continue
		}
		out = append(out, &r)
	}

	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), expired...).Err()
	}

	return out, nil
}

func (s *RedisStore) Name() string { return "redis" }

// Close leaves the client open; it is owned by the caller.
func (s *RedisStore) Close() error { return nil }
