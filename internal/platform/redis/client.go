// Package redis opens the shared go-redis client used by the revocation list,
// refresh guard, bus dedup and rate limiter.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"olympus/internal/platform/config"
)

type Client struct {
	*redis.Client
}

type Option func(*slowLog)

// WithLogger enables slow command logging.
func WithLogger(logger *slog.Logger) Option {
	return func(h *slowLog) { h.logger = logger }
}

// WithSlowThreshold sets the duration above which a command is logged.
func WithSlowThreshold(d time.Duration) Option {
	return func(h *slowLog) { h.threshold = d }
}

// New connects when cfg.URL is set and returns a nil client otherwise.
func New(ctx context.Context, cfg config.RedisConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	ro, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		ro.PoolSize = cfg.PoolSize
	}
	ro.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		ro.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		ro.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		ro.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(ro)
	hook := &slowLog{threshold: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(hook)
	}
	if hook.logger != nil {
		client.AddHook(hook)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}

type slowLog struct {
	logger    *slog.Logger
	threshold time.Duration
}

func (h *slowLog) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.WarnContext(ctx, "redis dial failed", "addr", addr, "error", err)
		}
		return conn, err
	}
}

func (h *slowLog) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		if elapsed := time.Since(start); elapsed > h.threshold {
			h.logger.WarnContext(ctx, "slow redis command",
				"command", cmd.Name(),
				"duration_ms", elapsed.Milliseconds(),
			)
		}
		return err
	}
}

func (h *slowLog) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if elapsed := time.Since(start); elapsed > h.threshold {
			h.logger.WarnContext(ctx, "slow redis pipeline",
				"commands", len(cmds),
				"duration_ms", elapsed.Milliseconds(),
			)
		}
		return err
	}
}
