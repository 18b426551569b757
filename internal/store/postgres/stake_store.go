package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanclash/settlement/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// StakeStore implements domain.StakeStore using PostgreSQL.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a new StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// Place records the stake and increments the matching outcome pool and the
// market total in one transaction. The market row is locked for the duration
// so concurrent stakes on the same market serialize on the pool increment,
// and the stakes primary key turns a duplicate (market, user) pair into a
// *DuplicateStakeError instead of a lost race between check and insert.
func (s *StakeStore) Place(ctx context.Context, stake domain.Stake) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin place stake: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM markets WHERE id = $1 FOR UPDATE`, stake.MarketID,
	).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock market %s: %w", stake.MarketID, err)
	}

	if domain.MarketStatus(status) != domain.MarketStatusOpen {
		return &domain.StateError{
			Entity:    "market",
			ID:        stake.MarketID,
			Current:   status,
			Requested: "stake placement",
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO stakes (market_id, user_id, outcome, amount, claimed, placed_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5)`,
		stake.MarketID, stake.UserID, string(stake.Outcome), stake.Amount, stake.PlacedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &domain.DuplicateStakeError{MarketID: stake.MarketID, UserID: stake.UserID}
		}
		return fmt.Errorf("postgres: insert stake: %w", err)
	}

	var poolCol string
	switch stake.Outcome {
	case domain.OutcomeHome:
		poolCol = "pool_home"
	case domain.OutcomeAway:
		poolCol = "pool_away"
	case domain.OutcomeDraw:
		poolCol = "pool_draw"
	default:
		return &domain.ValidationError{Field: "outcome", Reason: "not stakeable"}
	}

	_, err = tx.Exec(ctx,
		`UPDATE markets SET `+poolCol+` = `+poolCol+` + $2,
			total_staked = total_staked + $2, updated_at = NOW()
		 WHERE id = $1`,
		stake.MarketID, stake.Amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: increment pool: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit place stake: %w", err)
	}
	return nil
}

// GetByMarketUser retrieves one user's stake on a market.
func (s *StakeStore) GetByMarketUser(ctx context.Context, marketID, userID string) (domain.Stake, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market_id, user_id, outcome, amount, claimed, placed_at
		 FROM stakes WHERE market_id = $1 AND user_id = $2`,
		marketID, userID,
	)
	st, err := scanStake(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Stake{}, domain.ErrNotFound
		}
		return domain.Stake{}, fmt.Errorf("postgres: get stake %s/%s: %w", marketID, userID, err)
	}
	return st, nil
}

func scanStake(row pgx.Row) (domain.Stake, error) {
	var st domain.Stake
	var outcome string
	err := row.Scan(&st.MarketID, &st.UserID, &outcome, &st.Amount, &st.Claimed, &st.PlacedAt)
	if err != nil {
		return domain.Stake{}, err
	}
	st.Outcome = domain.Outcome(outcome)
	return st, nil
}

// ListByMarket returns every stake on a market.
func (s *StakeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Stake, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, user_id, outcome, amount, claimed, placed_at
		 FROM stakes WHERE market_id = $1 ORDER BY placed_at ASC`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes for %s: %w", marketID, err)
	}
	defer rows.Close()

	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: stake rows: %w", err)
	}
	return stakes, nil
}

// ClaimWithTransfer flips the stake's claimed flag from false to true and
// enqueues the outbox transfer in the same transaction. The stake row is
// locked first, so of two concurrent claims exactly one sees claimed=false;
// the loser gets *AlreadyClaimedError and no transfer is enqueued for it.
func (s *StakeStore) ClaimWithTransfer(ctx context.Context, marketID, userID string, t domain.Transfer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	var claimed bool
	err = tx.QueryRow(ctx,
		`SELECT claimed FROM stakes WHERE market_id = $1 AND user_id = $2 FOR UPDATE`,
		marketID, userID,
	).Scan(&claimed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock stake %s/%s: %w", marketID, userID, err)
	}
	if claimed {
		return &domain.AlreadyClaimedError{EntityID: marketID, UserID: userID}
	}

	_, err = tx.Exec(ctx,
		`UPDATE stakes SET claimed = TRUE WHERE market_id = $1 AND user_id = $2`,
		marketID, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark stake claimed: %w", err)
	}

	if err := enqueueTransferTx(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit claim: %w", err)
	}
	return nil
}

// CountUnclaimed returns how many stakes on the given outcome have not been
// claimed yet.
func (s *StakeStore) CountUnclaimed(ctx context.Context, marketID string, outcome domain.Outcome) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stakes
		 WHERE market_id = $1 AND outcome = $2 AND claimed = FALSE`,
		marketID, string(outcome),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count unclaimed for %s: %w", marketID, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.StakeStore = (*StakeStore)(nil)
