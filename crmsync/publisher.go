// Package crmsync ships finalized call outcomes to the CRM pipeline
// over a Redis stream. Publishing is fire-and-forget from the session's
// point of view; the call is finished whether or not the sync lands.
package crmsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/callpilot-ai/callpilot/types"
)

// Sync is the outbound outcome port.
type Sync interface {
	Publish(ctx context.Context, pkg *types.OutcomePackage) error
}

// Config tunes the Redis stream publisher.
type Config struct {
	Stream  string        `yaml:"stream"`
	MaxLen  int64         `yaml:"max_len"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the standard publisher settings.
func DefaultConfig() Config {
	return Config{
		Stream:  "callpilot:outcomes",
		MaxLen:  100000,
		Retries: 2,
		Backoff: 100 * time.Millisecond,
		Timeout: 3 * time.Second,
	}
}

// RedisPublisher appends outcome packages to a capped Redis stream.
type RedisPublisher struct {
	cfg    Config
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisPublisher creates the publisher.
func NewRedisPublisher(cfg Config, client redis.UniversalClient, logger *zap.Logger) *RedisPublisher {
	if cfg.Stream == "" {
		cfg.Stream = DefaultConfig().Stream
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "crm_sync")),
	}
}

// Publish appends one outcome to the stream, retrying transient
// failures a bounded number of times.
func (p *RedisPublisher) Publish(ctx context.Context, pkg *types.OutcomePackage) error {
	payload, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("marshal outcome package: %w", err)
	}

	values := map[string]any{
		"session_id": pkg.SessionID,
		"outcome":    string(pkg.Outcome),
		"package":    string(payload),
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.Backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		addCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		_, lastErr = p.client.XAdd(addCtx, &redis.XAddArgs{
			Stream: p.cfg.Stream,
			MaxLen: p.cfg.MaxLen,
			Approx: true,
			Values: values,
		}).Result()
		cancel()

		if lastErr == nil {
			p.logger.Debug("outcome published",
				zap.String("session_id", pkg.SessionID),
				zap.String("outcome", string(pkg.Outcome)))
			return nil
		}
	}

	return fmt.Errorf("publish outcome after %d attempts: %w", p.cfg.Retries+1, lastErr)
}

// PublishAsync publishes on a fresh goroutine with its own deadline so
// session teardown never waits on the CRM pipeline. Failures are logged
// and dropped.
func (p *RedisPublisher) PublishAsync(pkg *types.OutcomePackage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout*time.Duration(p.cfg.Retries+1)+time.Second)
		defer cancel()
		if err := p.Publish(ctx, pkg); err != nil {
			p.logger.Error("outcome sync failed",
				zap.String("session_id", pkg.SessionID),
				zap.Error(err))
		}
	}()
}
