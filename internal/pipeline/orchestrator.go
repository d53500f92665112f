package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background jobs: the refresher loop and, when
// configured, the retention cron.
type Orchestrator struct {
	refresher     *Refresher
	retention     *Retention
	retentionCron string
	logger        *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. retention may be nil, in which
// case only the refresher runs.
func NewOrchestrator(refresher *Refresher, retention *Retention, retentionCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		refresher:     refresher,
		retention:     retention,
		retentionCron: retentionCron,
		logger:        logger,
	}
}

// Run starts every job in an errgroup and blocks until the context is
// cancelled or a job fails with a non-context error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("retention", o.retention != nil),
		slog.String("retention_cron", o.retentionCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.refresher.RunLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("refresher: %w", err)
	})

	if o.retention != nil {
		g.Go(func() error {
			err := o.retention.RunCron(ctx, o.retentionCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("retention: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
