package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// incrementIfBelowScript admits an increment only when the counter would
// stay at or below the limit. Runs server-side so the check and the
// increment are one linearizable step per key.
var incrementIfBelowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + amount > limit then
	return {0, current}
end
local new = redis.call('INCRBY', KEYS[1], amount)
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {1, new}
`)

// windowAdmitScript is the atomic sliding-window admission: trim expired
// markers, count, deny at capacity without inserting, otherwise insert a
// marker stamped with now and refresh the set TTL. A naive read-then-write
// version of this sequence systematically over-admits under concurrency.
var windowAdmitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', KEYS[1])
if count >= max then
	return {0, count}
end
redis.call('ZADD', KEYS[1], now, member)
redis.call('PEXPIRE', KEYS[1], ttl)
return {1, count + 1}
`)

// RedisStore implements Store on Redis. Suitable for distributed
// deployments where many instances share counter state; per-key atomicity
// comes from Redis single-threaded command execution and the Lua scripts
// above.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// OpTimeout bounds every store round trip so a slow Redis degrades
	// into the gate's fallback paths instead of stalling requests.
	OpTimeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.OpTimeout), nil
}

// NewRedisStoreWithClient wraps an existing client. Useful for tests and
// for sharing one client across components.
func NewRedisStoreWithClient(client *redis.Client, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Millisecond
	}
	return &RedisStore{client: client, opTimeout: opTimeout}
}

// Increment implements Store using INCRBY plus a TTL refresh pipelined in
// one round trip.
func (s *RedisStore) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, amount)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("increment", err)
	}
	return incr.Val(), nil
}

// IncrementIfBelow implements Store via a server-side script.
func (s *RedisStore) IncrementIfBelow(ctx context.Context, key string, amount, limit int64, ttl time.Duration) (bool, int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := incrementIfBelowScript.Run(ctx, s.client, []string{key},
		amount, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, unavailable("conditional increment", err)
	}
	return res[0] == 1, res[1], nil
}

// Get implements Store. Absent keys read as zero.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", err)
	}
	return val, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// SetIfAbsent implements Store using SETNX with TTL in a single command.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	set, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("set-if-absent", err)
	}
	return set, nil
}

// Expire implements Store.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("expire", err)
	}
	return nil
}

// WindowAdmit implements Store via a server-side script. The marker member
// is a UUID so two calls in the same millisecond stay distinct.
func (s *RedisStore) WindowAdmit(ctx context.Context, key string, maxCalls int64, window, ttl time.Duration) (WindowResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	member := uuid.NewString()
	now := time.Now().UnixMilli()

	res, err := windowAdmitScript.Run(ctx, s.client, []string{key},
		now, window.Milliseconds(), maxCalls, member, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return WindowResult{}, unavailable("window admit", err)
	}

	result := WindowResult{Allowed: res[0] == 1, Count: res[1]}
	if result.Allowed {
		result.Member = member
	}
	return result, nil
}

// WindowRevoke implements Store.
func (s *RedisStore) WindowRevoke(ctx context.Context, key, member string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
		return unavailable("window revoke", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// opContext bounds a store round trip with the configured timeout.
func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
