package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/service"
)

// refreshLockKey guards the refresh so only one instance polls per interval.
const refreshLockKey = "refresh"

// MarketRefresher rebuilds the market snapshot.
type MarketRefresher interface {
	Refresh(ctx context.Context) (service.RefreshResult, error)
}

// Refresher drives MarketRefresher on a fixed interval. When a lock manager
// is configured, a tick is skipped while another instance holds the lock.
type Refresher struct {
	markets  MarketRefresher
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a new Refresher. locks may be nil.
func NewRefresher(markets MarketRefresher, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		markets:  markets,
		locks:    locks,
		interval: interval,
		logger:   logger,
	}
}

// Run executes a single refresh. Lock contention, stale results and an empty
// provider response are reported in the returned error.
func (r *Refresher) Run(ctx context.Context) (service.RefreshResult, error) {
	if r.locks != nil {
		ttl := r.interval
		if ttl <= 0 {
			ttl = time.Minute
		}
		unlock, err := r.locks.Acquire(ctx, refreshLockKey, ttl)
		if err != nil {
			return service.RefreshResult{}, fmt.Errorf("refresher: acquire lock: %w", err)
		}
		defer unlock()
	}

	result, err := r.markets.Refresh(ctx)
	if err != nil {
		return result, fmt.Errorf("refresher: %w", err)
	}
	return result, nil
}

// RunLoop refreshes immediately and then on every interval until the context
// is cancelled.
func (r *Refresher) RunLoop(ctx context.Context) error {
	r.logger.Info("refresher loop started", slog.Duration("interval", r.interval))
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) tick(ctx context.Context) {
	result, err := r.Run(ctx)
	switch {
	case err == nil:
		r.logger.Debug("refresh complete",
			slog.Uint64("generation", result.Generation),
			slog.Int("markets", result.Markets),
		)
	case errors.Is(err, domain.ErrLockHeld):
		r.logger.Debug("refresh skipped, lock held elsewhere")
	case errors.Is(err, domain.ErrStaleGeneration):
		r.logger.Info("refresh superseded by a newer fetch", slog.Uint64("generation", result.Generation))
	case errors.Is(err, domain.ErrNoMarkets):
		r.logger.Warn("refresh returned no markets", slog.Uint64("generation", result.Generation))
	case ctx.Err() != nil:
	default:
		r.logger.Error("refresh failed", slog.String("error", err.Error()))
	}
}
