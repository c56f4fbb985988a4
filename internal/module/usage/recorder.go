package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Recorder aggregates generation usage. It satisfies the billing handler's
// UsageRecorder dependency. Recording is observational: failures are
// reported to the caller but must never roll back the credit debit that
// preceded them.
type Recorder struct {
	repo   Repository
	redis  *redis.Client
	period PeriodFunc
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a new usage recorder. redis may be nil; the mirror
// counters are then skipped.
func NewRecorder(repo Repository, rdb *redis.Client, period PeriodFunc, logger *zap.Logger) *Recorder {
	if period == nil {
		period = CalendarMonth
	}
	return &Recorder{
		repo:   repo,
		redis:  rdb,
		period: period,
		logger: logger,
		now:    time.Now,
	}
}

// Record folds one generation into the account's current-period aggregate.
func (r *Recorder) Record(ctx context.Context, accountID uuid.UUID, inputTokens, outputTokens int) error {
	now := r.now()
	start, end := r.period(now)

	if err := r.repo.Upsert(ctx, accountID, start, end, int64(inputTokens), int64(outputTokens), now); err != nil {
		return err
	}

	r.mirror(ctx, accountID, start, end)
	return nil
}

// mirror keeps a hot per-period counter in redis for cheap dashboard reads.
// Best effort: the database row is authoritative.
func (r *Recorder) mirror(ctx context.Context, accountID uuid.UUID, start, end time.Time) {
	if r.redis == nil {
		return
	}
	key := fmt.Sprintf("usage:prompts:%s:%s", accountID, start.Format("2006-01"))
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Warn("failed to mirror usage counter", zap.Error(err))
		return
	}
	if count == 1 {
		if err := r.redis.ExpireAt(ctx, key, end.Add(24*time.Hour)).Err(); err != nil {
			r.logger.Warn("failed to expire usage counter", zap.Error(err))
		}
	}
}

// Current returns the account's aggregate for the period containing now.
// A nil record means no usage this period.
func (r *Recorder) Current(ctx context.Context, accountID uuid.UUID) (*UsageRecord, error) {
	start, _ := r.period(r.now())
	return r.repo.GetByAccountPeriod(ctx, accountID, start)
}

// System returns the system-wide rollup for the current period.
func (r *Recorder) System(ctx context.Context) (*SystemUsage, error) {
	start, end := r.period(r.now())
	out, err := r.repo.SystemUsage(ctx, start)
	if err != nil {
		return nil, err
	}
	out.PeriodEnd = end
	return out, nil
}

// Top returns the heaviest accounts of the current period.
func (r *Recorder) Top(ctx context.Context, limit int) ([]AccountUsage, error) {
	start, _ := r.period(r.now())
	return r.repo.TopAccounts(ctx, start, limit)
}
