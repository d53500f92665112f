package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// RefreshRun records the outcome of one committed refresh.
type RefreshRun struct {
	Generation    uint64
	MarketCount   int
	TrendingCount int
	EventCount    int
	Synthesized   int
	NoMarkets     bool
	FetchedAt     time.Time
}

// SnapshotStore persists committed market snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, run RefreshRun, markets []Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	LatestRun(ctx context.Context) (RefreshRun, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	// PruneRuns deletes refresh runs fetched before cutoff, together with
	// markets last seen in them. The latest run is always kept.
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
}
