package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// the blob and its metadata hash change together or not at all
const storeScript = `
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], "updated_at", ARGV[2], "bytes", ARGV[3], "schema_version", ARGV[4])
return 1
`

// RedisGateway stores snapshots as plain string keys under a prefix.
type RedisGateway struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

func NewRedisGateway(client *redis.Client, prefix string) *RedisGateway {
	return &RedisGateway{
		client: client,
		prefix: prefix,
		script: redis.NewScript(storeScript),
	}
}

func (g *RedisGateway) dataKey(key string) string { return g.prefix + key }

func (g *RedisGateway) metaKey(key string) string { return g.prefix + key + ":meta" }

func (g *RedisGateway) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if g == nil || g.client == nil {
		return nil, false, errors.New("redis client not configured")
	}
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrInvalidKey
	}
	ctx, span := tracer.Start(ctx, "redis.load")
	defer span.End()
	span.SetAttributes(attribute.String("world_state.key", key))

	value, err := g.client.Get(ctx, g.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		span.SetStatus(codes.Error, "load failed")
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return value, true, nil
}

func (g *RedisGateway) Store(ctx context.Context, key string, value []byte) error {
	if g == nil || g.client == nil {
		return errors.New("redis client not configured")
	}
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	ctx, span := tracer.Start(ctx, "redis.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("world_state.key", key),
		attribute.Int("world_state.bytes", len(value)),
	)

	err := g.script.Run(ctx, g.client,
		[]string{g.dataKey(key), g.metaKey(key)},
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
		len(value),
		SchemaVersion,
	).Err()
	if err != nil {
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}
