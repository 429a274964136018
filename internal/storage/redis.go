package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when an item does not exist
	ErrNotFound = errors.New("item not found")

	// ErrConditionFailed is returned when a conditional write or a guarded
	// transaction loses against the current state
	ErrConditionFailed = errors.New("conditional check failed")
)

const defaultTimeout = 2 * time.Second

type RedisClient struct {
	client  *redis.Client
	replica *redis.Client
	timeout time.Duration
}

type RedisOption func(*RedisClient)

// Routes eventually consistent reads to a replica
func WithReplica(addr, password string, db int) RedisOption {
	return func(r *RedisClient) {
		if addr == "" {
			return
		}
		r.replica = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
	}
}

// Bounds every store call
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisClient) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRedis(addr, password string, db int, opts ...RedisOption) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     50,
		MinIdleConns: 5,
	})

	r := &RedisClient{
		client:  client,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := r.withTimeout(context.Background())
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return r, nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	if r.replica != nil {
		r.replica.Close()
	}
	return r.client.Close()
}

// Returns a handle on the items stored under a table prefix
func (r *RedisClient) Table(name string) *Table {
	return &Table{name: name, redis: r}
}

func (r *RedisClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Strongly consistent reads always go to the primary
func (r *RedisClient) reader(consistent bool) *redis.Client {
	if consistent || r.replica == nil {
		return r.client
	}
	return r.replica
}
