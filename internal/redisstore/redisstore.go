// Package redisstore wraps a pooled Redis client shared by the sessions and
// push controllers, grounded on the pack's only real Redis client,
// flyingrobots-go-redis-work-queue's internal/redisclient.New (pool sizing,
// timeouts), retargeted from go-redis/v8 to go-redis/v9.
package redisstore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the shared client. Zero values fall back to sane
// defaults sized the way the teacher's redisclient.New does.
type Config struct {
	Addr               string
	Username           string
	Password           string
	DB                 int
	PoolSizeMultiplier int
	MinIdleConns       int
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxRetries         int
}

// Store wraps a *redis.Client and the keyspace-notification subscription
// the sessions controller needs for event-driven expiry.
type Store struct {
	Client *redis.Client
	db     int
}

// Open connects to Redis and enables keyspace notifications for expired
// keys, so the sessions controller can subscribe instead of polling.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolSize := cfg.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        poolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}

	if err := client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		return nil, fmt.Errorf("redisstore: enable keyspace notifications: %w", err)
	}

	return &Store{Client: client, db: cfg.DB}, nil
}

// SubscribeExpired returns a PubSub subscribed to the expired-key keyspace
// event channel for this client's database.
func (s *Store) SubscribeExpired(ctx context.Context) *redis.PubSub {
	channel := fmt.Sprintf("__keyevent@%d__:expired", s.db)
	return s.Client.PSubscribe(ctx, channel)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.Client.Close()
}
