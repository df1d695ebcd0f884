package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrOwnedElsewhere is returned when another process holds the dataset
// lease.
var ErrOwnedElsewhere = errors.New("pipeline is owned by another process")

// Locker is a per-dataset lease shared between processes.
type Locker interface {
	// Acquire takes the lease, or extends it if this process already holds
	// it. It returns ErrOwnedElsewhere when another owner holds it.
	Acquire(ctx context.Context, datasetID string, ttl time.Duration) error
	Refresh(ctx context.Context, datasetID string, ttl time.Duration) error
	Release(ctx context.Context, datasetID string) error
}

const (
	refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`
	releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`
)

// RedisLocker implements Locker with SET NX and owner-checked scripts.
type RedisLocker struct {
	client *redis.Client
	owner  string
	prefix string
}

// NewRedisLocker identifies this process by hostname and pid.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	host, _ := os.Hostname()
	return &RedisLocker{
		client: client,
		owner:  fmt.Sprintf("%s:%d", host, os.Getpid()),
		prefix: "warden:pipeline:lease:",
	}
}

func (l *RedisLocker) key(datasetID string) string { return l.prefix + datasetID }

func (l *RedisLocker) Acquire(ctx context.Context, datasetID string, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key(datasetID), l.owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("Acquire: %w", err)
	}
	if ok {
		return nil
	}
	return l.Refresh(ctx, datasetID, ttl)
}

func (l *RedisLocker) Refresh(ctx context.Context, datasetID string, ttl time.Duration) error {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.key(datasetID)}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("Refresh: %w", err)
	}
	if n != 1 {
		return ErrOwnedElsewhere
	}
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, datasetID string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key(datasetID)}, l.owner).Err(); err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}
