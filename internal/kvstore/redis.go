package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript atomically compares the value at KEYS[1] against ARGV[1] and,
// if equal, either deletes the key (ARGV[2] == "") or sets it to ARGV[2]
// with TTL ARGV[3] milliseconds (0 meaning no expiry). ARGV[1] == "" means
// "key must not currently exist" (create semantics for CompareAndSwap's
// oldValue == nil case).
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
local old = ARGV[1]
local creating = (old == "")

if creating then
	if cur then
		return 0
	end
else
	if cur ~= old then
		return 0
	end
end

local newVal = ARGV[2]
if newVal == "" then
	redis.call("DEL", KEYS[1])
	return 1
end

local ttlMs = tonumber(ARGV[3])
if ttlMs > 0 then
	redis.call("SET", KEYS[1], newVal, "PX", ttlMs)
else
	redis.call("SET", KEYS[1], newVal)
end
return 1
`)

// Redis is a kvstore.Store backed by a Redis (or Redis-compatible, e.g.
// DragonflyDB) server, grounded on the teacher's presence.New(url, logger)
// connection convention.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to the Redis server at url (e.g. "redis://host:6379").
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opts), logger: logger}, nil
}

// HealthCheck pings the Redis server.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	result, err := casScript.Run(ctx, r.client, []string{key}, oldValue, newValue, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
