package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLeaseHeld = errors.New("world_lease_held")
	ErrLeaseLost = errors.New("world_lease_lost")
)

// Lease is exclusive ownership of a shared store. Only one process may hold it;
// the holder renews it on every checkpoint.
type Lease interface {
	Acquire(ctx context.Context) error
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

const leaseRenewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLease holds the lease as a SETNX key carrying a per-process token.
type RedisLease struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	renew   *redis.Script
	release *redis.Script

	mu    sync.Mutex
	token string
}

func NewRedisLease(client *redis.Client, prefix string, ttl time.Duration) *RedisLease {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLease{
		client:  client,
		key:     prefix + "lease",
		ttl:     ttl,
		renew:   redis.NewScript(leaseRenewScript),
		release: redis.NewScript(leaseReleaseScript),
	}
}

func (l *RedisLease) Key() string { return l.key }

func (l *RedisLease) Acquire(ctx context.Context) error {
	if l == nil || l.client == nil {
		return errors.New("lease client not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}
	l.token = token
	return nil
}

func (l *RedisLease) Renew(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	if strings.TrimSpace(token) == "" {
		return ErrLeaseLost
	}

	n, err := l.renew.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		l.mu.Lock()
		l.token = ""
		l.mu.Unlock()
		return ErrLeaseLost
	}
	return nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{l.key}, token).Err()
}

// LocalLease never contends. The memory and sql backends use it.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context) error { return nil }

func (LocalLease) Renew(context.Context) error { return nil }

func (LocalLease) Release(context.Context) error { return nil }
