package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RunPruner removes persisted refresh runs older than a cutoff.
type RunPruner interface {
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
}

// ArchivePruner removes archived snapshots older than a cutoff.
type ArchivePruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Retention trims persisted refresh history on a cron schedule. Either
// pruner may be nil.
type Retention struct {
	runs          RunPruner
	archive       ArchivePruner
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewRetention creates a new Retention job keeping retentionDays of history.
func NewRetention(runs RunPruner, archive ArchivePruner, retentionDays int, logger *slog.Logger) *Retention {
	return &Retention{
		runs:          runs,
		archive:       archive,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger,
	}
}

// Run executes a single retention pass.
func (r *Retention) Run(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	r.logger.Info("retention run started",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	var runs int64
	if r.runs != nil {
		n, err := r.runs.PruneRuns(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning refresh runs before %v: %w", cutoff, err)
		}
		runs = n
	}

	var snapshots int
	if r.archive != nil {
		n, err := r.archive.Prune(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning archived snapshots before %v: %w", cutoff, err)
		}
		snapshots = n
	}

	r.logger.Info("retention run complete",
		slog.Int64("runs_pruned", runs),
		slog.Int("snapshots_pruned", snapshots),
	)
	return nil
}

// RunCron runs the retention job on a 5-field cron schedule until the context
// is cancelled, e.g. "0 3 * * *" for 03:00 UTC daily.
func (r *Retention) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseSchedule(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	r.logger.Info("retention cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(r.now().UTC())
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("retention cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("retention run failed", slog.String("error", err.Error()))
			}
		}
	}
}
