// Package redispool pools single-connection Redis clients behind pool.Pool.
package redispool

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nikiz24/slotstat/pool"
)

// Config describes how each pooled client connects.
type Config struct {
	Addr string
	// Username is the ACL principal; empty uses the default user.
	Username string
	// Password is the credential sent with AUTH.
	Password string
	DB       int

	// Cap is the soft capacity of the pool.
	Cap int

	DialTimeout time.Duration
	// DialAttempts bounds how many times a new client pings before giving up.
	DialAttempts int

	Logger *zap.Logger
}

// DefaultConfig returns a config for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		Cap:          pool.DefaultCap,
		DialTimeout:  5 * time.Second,
		DialAttempts: 3,
	}
}

// New creates a pool of Redis clients. Each client holds one connection so
// the pool, not go-redis, decides how many connections exist.
func New(cfg Config, in *pool.Instruments) (*pool.Pool[*redis.Client], error) {
	if cfg.Addr == "" {
		return nil, errors.New("redispool: Addr is required")
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return pool.New(pool.Config[*redis.Client]{
		Name:        "redis",
		Cap:         cfg.Cap,
		NewFunc:     dialer(cfg, logger),
		DestroyFunc: func(c *redis.Client) error { return c.Close() },
		Instruments: in,
		Logger:      logger,
	})
}

func dialer(cfg Config, logger *zap.Logger) func(context.Context) (*redis.Client, error) {
	return func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     1,
			DialTimeout:  cfg.DialTimeout,
		})

		b := &backoff.Backoff{
			Factor: 2,
			Jitter: true,
			Min:    50 * time.Millisecond,
			Max:    time.Second,
		}

		var err error
		for attempt := 1; ; attempt++ {
			if err = client.Ping(ctx).Err(); err == nil {
				return client, nil
			}
			if attempt >= cfg.DialAttempts {
				break
			}
			d := b.Duration()
			logger.Debug("redis ping failed, retrying",
				zap.String("addr", cfg.Addr),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", d),
				zap.Error(err))
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(d):
				continue
			}
			break
		}

		_ = client.Close()
		return nil, err
	}
}
