package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanclash/settlement/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, event_ref, lock_time, event_time, status, result,
	total_staked, pool_home, pool_away, pool_draw, created_at, updated_at`

// Create inserts a new market in the open state with empty pools.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, event_ref, lock_time, event_time, status, result,
			total_staked, pool_home, pool_away, pool_draw, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, 0, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.EventRef, m.LockTime, m.EventTime,
		string(m.Status), string(m.Result),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status, result string
	err := row.Scan(
		&m.ID, &m.EventRef, &m.LockTime, &m.EventTime, &status, &result,
		&m.TotalStaked, &m.PoolHome, &m.PoolAway, &m.PoolDraw,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Result = domain.Outcome(result)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// UpdateStatus moves a market from one status to another with a
// compare-and-set on the current status. When the market is not in the
// expected source status the update touches nothing and a *StateError
// naming the actual and requested states is returned.
func (s *MarketStore) UpdateStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	const query = `
		UPDATE markets SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: update market %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, id, to)
	}
	return nil
}

// Resolve performs the locked→resolved transition and records the result in
// the same compare-and-set update, so a second resolver observes zero rows
// affected instead of overwriting the result.
func (s *MarketStore) Resolve(ctx context.Context, id string, result domain.Outcome) error {
	const query = `
		UPDATE markets SET status = $2, result = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.MarketStatusResolved), string(result), string(domain.MarketStatusLocked))
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, id, domain.MarketStatusResolved)
	}
	return nil
}

// stateConflict reloads the market to build a StateError carrying its actual
// current status. A missing row surfaces as ErrNotFound instead.
func (s *MarketStore) stateConflict(ctx context.Context, id string, requested domain.MarketStatus) error {
	m, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &domain.StateError{
		Entity:    "market",
		ID:        id,
		Current:   string(m.Status),
		Requested: string(requested),
	}
}

// ListByStatus returns markets in the given status, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list markets by status %s: %w", status, err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListLockable returns open markets whose lock time has passed, oldest first
// so the settler drains the backlog in order.
func (s *MarketStore) ListLockable(ctx context.Context, now time.Time, limit int) ([]domain.Market, error) {
	const query = `
		SELECT ` + marketCols + ` FROM markets
		WHERE status = 'open' AND lock_time <= $1
		ORDER BY lock_time ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lockable markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
