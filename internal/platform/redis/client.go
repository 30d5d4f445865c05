// Package redis opens the optional Redis connection shared by the wizard
// session cache and the realtime bridge.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mkcompany/internal/platform/config"
	"mkcompany/pkg/platform/sentinel"
)

const (
	clientName    = "mkcompany"
	healthTimeout = 2 * time.Second
)

// Client wraps the go-redis client with health checking.
type Client struct {
	*redis.Client
	addr string
}

// New connects to the Redis server at cfg.URL. It returns nil, nil when no URL
// is configured; callers then fall back to in-process session snapshots and
// change events.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.ClientName = clientName
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "redis connected",
			"addr", opts.Addr,
			"db", opts.DB,
			"pool_size", opts.PoolSize,
		)
	}
	return &Client{Client: client, addr: opts.Addr}, nil
}

// Health pings the server. Failures wrap sentinel.ErrUnavailable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w: %v", c.addr, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
