package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AbuseMonitor tracks per-account generation rate in Redis and flags
// accounts that exceed the configured rate. Flagging is observational: it
// appends a flag for review and never blocks a request. Redis failures
// degrade to not counting.
type AbuseMonitor struct {
	redis  *redis.Client
	repo   Repository
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewAbuseMonitor creates a new abuse monitor.
func NewAbuseMonitor(rdb *redis.Client, repo Repository, limit int, window time.Duration, logger *zap.Logger) *AbuseMonitor {
	return &AbuseMonitor{
		redis:  rdb,
		repo:   repo,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Observe records one generation for rate accounting.
func (m *AbuseMonitor) Observe(ctx context.Context, accountID uuid.UUID) {
	if m.redis == nil || m.limit <= 0 {
		return
	}

	key := m.rateKey(accountID)
	count, err := m.redis.Incr(ctx, key).Result()
	if err != nil {
		m.logger.Warn("redis error during abuse accounting", zap.Error(err))
		return
	}
	if count == 1 {
		m.redis.Expire(ctx, key, m.window)
	}

	if count == int64(m.limit)+1 {
		flag := fmt.Sprintf("generation-rate:%s", time.Now().UTC().Format("2006-01-02"))
		if err := m.repo.AppendAbuseFlag(ctx, accountID, flag); err != nil {
			m.logger.Error("failed to flag account", zap.Error(err))
			return
		}
		m.logger.Warn("account flagged for generation rate",
			zap.String("account_id", accountID.String()),
			zap.Int64("count", count),
			zap.Duration("window", m.window),
		)
	}
}

func (m *AbuseMonitor) rateKey(accountID uuid.UUID) string {
	bucket := time.Now().UTC().Truncate(m.window).Unix()
	return fmt.Sprintf("abuse:generations:%s:%d", accountID.String(), bucket)
}
