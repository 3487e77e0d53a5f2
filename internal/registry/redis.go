package registry

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const (
	valueBuilding = "building"
	valueReady    = "ready"
)

// abortScript deletes the key only while it still holds the building marker.
var abortScript = redisv9.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
if v then
	return -1
end
return 0
`)

// RedisRegistry shares collection state between server processes.
type RedisRegistry struct {
	client      *redisv9.Client
	keyPrefix   string
	buildingTTL time.Duration
}

// NewRedisRegistry creates a registry. buildingTTL bounds how long a crashed build
// keeps its id reserved.
func NewRedisRegistry(client *redisv9.Client, keyPrefix string, buildingTTL time.Duration) *RedisRegistry {
	if keyPrefix == "" {
		keyPrefix = "docqa:collection:"
	}
	if buildingTTL <= 0 {
		buildingTTL = 10 * time.Minute
	}
	return &RedisRegistry{
		client:      client,
		keyPrefix:   keyPrefix,
		buildingTTL: buildingTTL,
	}
}

func (r *RedisRegistry) Begin(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	ok, err := r.client.SetNX(ctx, r.key(id), valueBuilding, r.buildingTTL).Result()
	if err != nil {
		return fmt.Errorf("redis reserve collection failed: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisRegistry) MarkReady(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := r.client.Set(ctx, r.key(id), valueReady, 0).Err(); err != nil {
		return fmt.Errorf("redis mark collection ready failed: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Abort(ctx context.Context, id string) error {
	res, err := abortScript.Run(ctx, r.client, []string{r.key(id)}, valueBuilding).Int()
	if err != nil {
		return fmt.Errorf("redis abort collection failed: %w", err)
	}
	if res < 0 {
		return ErrReady
	}
	return nil
}

func (r *RedisRegistry) State(ctx context.Context, id string) (State, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redisv9.Nil {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, fmt.Errorf("redis get collection state failed: %w", err)
	}
	switch raw {
	case valueBuilding:
		return StateBuilding, nil
	case valueReady:
		return StateReady, nil
	default:
		return StateAbsent, fmt.Errorf("%w: %q", errUnknownState, raw)
	}
}

// Ping reports whether the backing redis server is reachable.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) key(id string) string {
	return r.keyPrefix + id
}
