package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/veriscan/internal/core/domain"
	"github.com/kirillkom/veriscan/internal/core/ports"
)

const (
	DefaultTerminalTTL = 24 * time.Hour
	DefaultActiveTTL   = 2 * time.Second
	keyPrefix          = "veriscan:job:"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// ActiveTTL bounds how long a pending or processing status is served from
	// cache. Keep it below the poll interval.
	ActiveTTL   time.Duration
	TerminalTTL time.Duration
}

// StatusCache serves job statuses from Redis and falls through to the wrapped
// source on a miss. Redis failures degrade to direct reads.
type StatusCache struct {
	client      *redis.Client
	source      ports.StatusSource
	logger      *slog.Logger
	activeTTL   time.Duration
	terminalTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func NewStatusCache(client *redis.Client, source ports.StatusSource, cfg Config, logger *slog.Logger) *StatusCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &StatusCache{
		client:      client,
		source:      source,
		logger:      logger,
		activeTTL:   cfg.ActiveTTL,
		terminalTTL: cfg.TerminalTTL,
	}
	if c.activeTTL <= 0 {
		c.activeTTL = DefaultActiveTTL
	}
	if c.terminalTTL <= 0 {
		c.terminalTTL = DefaultTerminalTTL
	}
	return c
}

func (c *StatusCache) CurrentStatus(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	key := statusKey(id)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if status, parseErr := domain.ParseJobStatus(raw); parseErr == nil {
			c.hits.Add(1)
			return status, nil
		}
		c.logger.Warn("status_cache_corrupt", "job_id", id, "value", raw)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("status_cache_get_failed", "job_id", id, "error", err)
	}
	c.misses.Add(1)

	status, err := c.source.CurrentStatus(ctx, id)
	if err != nil {
		return "", err
	}
	// Unknown values are passed through uncached for the scheduler to reject.
	if parsed, parseErr := domain.ParseJobStatus(string(status)); parseErr == nil {
		ttl := c.activeTTL
		if parsed.IsTerminal() {
			ttl = c.terminalTTL
		}
		if err := c.client.Set(ctx, key, string(parsed), ttl).Err(); err != nil {
			c.logger.Warn("status_cache_set_failed", "job_id", id, "error", err)
		}
	}
	return status, nil
}

// Stats reports cumulative cache hits and misses.
func (c *StatusCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *StatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func statusKey(id domain.JobID) string {
	return keyPrefix + id.String() + ":status"
}
