package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaharia-lab/notifyrelay/internal/model"
)

// RedisQueue is a Queue backed by a Redis list. Producers RPUSH to the tail
// and consumers BLPOP from the head, which gives FIFO order and hands each
// entry to exactly one consumer.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

// NewRedisQueue connects to redisURL (redis:// or rediss://) and verifies the
// connection with a PING.
func NewRedisQueue(ctx context.Context, redisURL, name string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second

	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisQueueFromClient(rdb, name), nil
}

// NewRedisQueueFromClient wraps an existing client. An empty name selects
// DefaultName.
func NewRedisQueueFromClient(rdb *redis.Client, name string) *RedisQueue {
	if name == "" {
		name = DefaultName
	}
	return &RedisQueue{rdb: rdb, name: name}
}

// Enqueue appends the JSON-encoded notification to the tail of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, n model.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification %s: %w", n.ID, err)
	}
	if err := q.rdb.RPush(ctx, q.name, b).Err(); err != nil {
		return &TransientError{Op: "enqueue", Err: err}
	}
	return nil
}

// Dequeue pops the head of the list, blocking up to wait. A non-positive wait
// does a single non-blocking pop.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (model.Notification, error) {
	var raw string
	if wait <= 0 {
		v, err := q.rdb.LPop(ctx, q.name).Result()
		if err != nil {
			return model.Notification{}, q.classify(ctx, "dequeue", err)
		}
		raw = v
	} else {
		res, err := q.rdb.BLPop(ctx, wait, q.name).Result()
		if err != nil {
			return model.Notification{}, q.classify(ctx, "dequeue", err)
		}
		if len(res) != 2 {
			return model.Notification{}, fmt.Errorf("%w: unexpected BLPOP reply of %d elements", ErrCorrupt, len(res))
		}
		raw = res[1]
	}

	var n model.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return model.Notification{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, nil
}

func (q *RedisQueue) classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrEmpty
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, redis.ErrClosed):
		return ErrClosed
	default:
		return &TransientError{Op: op, Err: err}
	}
}

// Len returns LLEN of the list.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, &TransientError{Op: "len", Err: err}
	}
	return n, nil
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return &TransientError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
