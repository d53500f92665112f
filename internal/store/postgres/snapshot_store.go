package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore. Each committed refresh adds
// a refresh_runs row; markets are upserted and tagged with the run that last
// saw them, so ListMarkets returns exactly the latest collection in order.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const upsertMarket = `
	INSERT INTO markets (
		id, question, category, synthesized, volume, volume_24h,
		condition_ids, member_ids, data, run_id, position, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		question      = EXCLUDED.question,
		category      = EXCLUDED.category,
		synthesized   = EXCLUDED.synthesized,
		volume        = EXCLUDED.volume,
		volume_24h    = EXCLUDED.volume_24h,
		condition_ids = EXCLUDED.condition_ids,
		member_ids    = EXCLUDED.member_ids,
		data          = EXCLUDED.data,
		run_id        = EXCLUDED.run_id,
		position      = EXCLUDED.position,
		updated_at    = NOW()`

// SaveSnapshot records run and upserts its markets in one transaction.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, run domain.RefreshRun, markets []domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var runID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO refresh_runs (
			generation, market_count, trending_count, event_count,
			synthesized, no_markets, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		int64(run.Generation), run.MarketCount, run.TrendingCount, run.EventCount,
		run.Synthesized, run.NoMarkets, run.FetchedAt,
	).Scan(&runID)
	if err != nil {
		return fmt.Errorf("postgres: insert refresh run %d: %w", run.Generation, err)
	}

	if len(markets) > 0 {
		batch := &pgx.Batch{}
		for i, m := range markets {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("postgres: marshal market %s: %w", m.ID, err)
			}
			batch.Queue(upsertMarket,
				m.ID, m.Question, m.Category, m.Synthesized, m.Volume, m.Volume24h,
				nonNil(m.ConditionIDs), nonNil(m.MemberIDs), data, runID, i,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range markets {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close market batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit snapshot %d: %w", run.Generation, err)
	}
	return nil
}

// GetMarket retrieves a market by its id or by a folded condition or member id.
func (s *SnapshotStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT data FROM markets
		WHERE id = $1 OR $1 = ANY(condition_ids) OR $1 = ANY(member_ids)
		ORDER BY updated_at DESC
		LIMIT 1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// LatestRun returns the most recently recorded refresh run.
func (s *SnapshotStore) LatestRun(ctx context.Context) (domain.RefreshRun, error) {
	var (
		run domain.RefreshRun
		gen int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT generation, market_count, trending_count, event_count,
			synthesized, no_markets, fetched_at
		FROM refresh_runs
		ORDER BY id DESC
		LIMIT 1`).Scan(
		&gen, &run.MarketCount, &run.TrendingCount, &run.EventCount,
		&run.Synthesized, &run.NoMarkets, &run.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RefreshRun{}, domain.ErrNotFound
		}
		return domain.RefreshRun{}, fmt.Errorf("postgres: latest refresh run: %w", err)
	}
	run.Generation = uint64(gen)
	return run, nil
}

// ListMarkets returns the markets of the latest run in merged order.
func (s *SnapshotStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `
		SELECT data FROM markets
		WHERE run_id = (SELECT MAX(id) FROM refresh_runs)
		ORDER BY position`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// PruneRuns deletes refresh runs fetched before cutoff along with the markets
// whose last sighting was one of them. The newest run is never removed.
func (s *SnapshotStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const stale = `
		SELECT id FROM refresh_runs
		WHERE fetched_at < $1 AND id < (SELECT MAX(id) FROM refresh_runs)`

	if _, err := tx.Exec(ctx, `DELETE FROM markets WHERE run_id IN (`+stale+`)`, before); err != nil {
		return 0, fmt.Errorf("postgres: prune markets: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM refresh_runs WHERE id IN (`+stale+`)`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune refresh runs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return domain.Market{}, err
	}
	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("decode market: %w", err)
	}
	return m, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
