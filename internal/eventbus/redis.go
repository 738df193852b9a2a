/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/queuecast/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Circuit CircuitConfig
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Circuit:      DefaultCircuitConfig(),
	}
}

type redisSink struct {
	client *redis.Client
}

func (s *redisSink) send(ctx context.Context, subject, _ string, data []byte) error {
	return s.client.Publish(ctx, subject, data).Err()
}

func (s *redisSink) ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisSink) close() error {
	return s.client.Close()
}

// NewRedisRelay connects to Redis and returns a relay publishing each event
// to the channel queuecast.events.<type>.
func NewRedisRelay(cfg RedisConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis event relay initialized")
	return newRelay("redis", bus, &redisSink{client: client}, nodeID, cfg.Circuit, logger), nil
}
