package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platformbuilds/authz-core/internal/monitoring"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// scanDeleteBatch bounds how many scanned keys are deleted per DEL to keep
// memory flat while invalidating large key families.
const scanDeleteBatch = 1000

// redisStore implements Store against a single-node Redis instance.
type redisStore struct {
	client *redis.Client
	logger logger.Logger
	ttl    time.Duration
}

// NewRedisStore connects to Redis and returns the production Store. The
// defaultTTL applies when Set is called with ttl <= 0.
func NewRedisStore(addr string, db int, password string, defaultTTL time.Duration, log logger.Logger) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &redisStore{
		client: client,
		logger: log,
		ttl:    defaultTTL,
	}, nil
}

func encode(key string, value interface{}) ([]byte, error) {
	switch x := value.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %s: %w", key, err)
		}
		return b, nil
	}
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (r *redisStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		monitoring.RecordCacheOperation("mget", "error")
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	for i, cmd := range cmds {
		b, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			continue
		}
		out[keys[i]] = b
	}
	monitoring.RecordCacheOperation("mget", "success")
	return out, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(key, value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (r *redisStore) SetMulti(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, e := range entries {
		data, err := encode(e.Key, e.Value)
		if err != nil {
			monitoring.RecordCacheOperation("mset", "error")
			return err
		}
		ttl := e.TTL
		if ttl <= 0 {
			ttl = r.ttl
		}
		pipe.Set(ctx, e.Key, data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		monitoring.RecordCacheOperation("mset", "error")
		return err
	}
	monitoring.RecordCacheOperation("mset", "success")
	return nil
}

func (r *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

func (r *redisStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := r.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		monitoring.RecordCacheOperation("scan", "error")
		return nil, 0, err
	}
	return keys, next, nil
}

func (r *redisStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		batch   []string
		deleted int64
	)
	for {
		keys, next, err := r.Scan(ctx, cursor, pattern, scanDeleteBatch)
		if err != nil {
			return deleted, err
		}
		batch = append(batch, keys...)

		if len(batch) >= scanDeleteBatch {
			if err := r.Delete(ctx, batch...); err != nil {
				return deleted, err
			}
			deleted += int64(len(batch))
			batch = batch[:0]
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(batch) > 0 {
		if err := r.Delete(ctx, batch...); err != nil {
			return deleted, err
		}
		deleted += int64(len(batch))
	}
	return deleted, nil
}

func (r *redisStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := r.client.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		monitoring.RecordCacheOperation("eval", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("eval", "success")
	return res, nil
}

/* --------------------------- distributed locks --------------------------- */

func (r *redisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)

	set, err := r.client.SetNX(ctx, lockKey, "locked", ttl).Result()
	if err != nil {
		monitoring.RecordCacheOperation("acquire_lock", "error")
		return false, err
	}
	if set {
		monitoring.RecordCacheOperation("acquire_lock", "success")
	} else {
		monitoring.RecordCacheOperation("acquire_lock", "conflict")
	}
	return set, nil
}

func (r *redisStore) ReleaseLock(ctx context.Context, key string) error {
	lockKey := fmt.Sprintf("lock:%s", key)
	if err := r.client.Del(ctx, lockKey).Err(); err != nil {
		monitoring.RecordCacheOperation("release_lock", "error")
		return err
	}
	monitoring.RecordCacheOperation("release_lock", "success")
	return nil
}

// HealthCheck pings the Redis instance.
func (r *redisStore) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx = c
	}
	return r.client.Ping(ctx).Err()
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
