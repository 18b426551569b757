package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanclash/settlement/internal/domain"
)

// DuelStore implements domain.DuelStore using PostgreSQL.
type DuelStore struct {
	pool *pgxpool.Pool
}

// NewDuelStore creates a new DuelStore backed by the given connection pool.
func NewDuelStore(pool *pgxpool.Pool) *DuelStore {
	return &DuelStore{pool: pool}
}

const duelCols = `id, creator_id, opponent_id, stake_amount, status, challenge_type,
	correct_answer, creator_answer, opponent_answer, winner_id, draw,
	creator_claimed, opponent_claimed, created_at, updated_at`

// Create inserts a new duel in the open state.
func (s *DuelStore) Create(ctx context.Context, d domain.Duel) error {
	const query = `
		INSERT INTO duels (
			id, creator_id, stake_amount, status, challenge_type, correct_answer,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.CreatorID, d.StakeAmount, string(d.Status),
		string(d.ChallengeType), d.CorrectAnswer,
	)
	if err != nil {
		return fmt.Errorf("postgres: create duel %s: %w", d.ID, err)
	}
	return nil
}

func scanDuel(row pgx.Row) (domain.Duel, error) {
	var d domain.Duel
	var status, challengeType string
	var opponentID, winnerID *string
	var creatorAnswer, opponentAnswer []byte

	err := row.Scan(
		&d.ID, &d.CreatorID, &opponentID, &d.StakeAmount, &status, &challengeType,
		&d.CorrectAnswer, &creatorAnswer, &opponentAnswer, &winnerID, &d.Draw,
		&d.CreatorClaimed, &d.OpponentClaimed, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Duel{}, err
	}

	d.Status = domain.DuelStatus(status)
	d.ChallengeType = domain.ChallengeType(challengeType)
	if opponentID != nil {
		d.OpponentID = *opponentID
	}
	if winnerID != nil {
		d.WinnerID = *winnerID
	}
	if creatorAnswer != nil {
		var a domain.Answer
		if err := json.Unmarshal(creatorAnswer, &a); err != nil {
			return domain.Duel{}, fmt.Errorf("unmarshal creator answer: %w", err)
		}
		d.CreatorAnswer = &a
	}
	if opponentAnswer != nil {
		var a domain.Answer
		if err := json.Unmarshal(opponentAnswer, &a); err != nil {
			return domain.Duel{}, fmt.Errorf("unmarshal opponent answer: %w", err)
		}
		d.OpponentAnswer = &a
	}
	return d, nil
}

// GetByID retrieves a duel by its primary key.
func (s *DuelStore) GetByID(ctx context.Context, id string) (domain.Duel, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+duelCols+` FROM duels WHERE id = $1`, id)
	d, err := scanDuel(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Duel{}, domain.ErrNotFound
		}
		return domain.Duel{}, fmt.Errorf("postgres: get duel %s: %w", id, err)
	}
	return d, nil
}

// Join sets the opponent and moves open→active with a compare-and-set on
// the open status, so only one opponent can ever take the slot.
func (s *DuelStore) Join(ctx context.Context, id, opponentID string) error {
	const query = `
		UPDATE duels SET opponent_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND opponent_id IS NULL`

	tag, err := s.pool.Exec(ctx, query,
		id, opponentID, string(domain.DuelStatusActive), string(domain.DuelStatusOpen))
	if err != nil {
		return fmt.Errorf("postgres: join duel %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, id, domain.DuelStatusActive)
	}
	return nil
}

// SetAnswer records one participant's answer. An already-recorded answer is
// never overwritten; the guard is part of the UPDATE so two submissions from
// the same side cannot both land.
func (s *DuelStore) SetAnswer(ctx context.Context, id string, creator bool, a domain.Answer) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("postgres: marshal answer: %w", err)
	}

	col := "opponent_answer"
	if creator {
		col = "creator_answer"
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE duels SET `+col+` = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3 AND `+col+` IS NULL`,
		id, payload, string(domain.DuelStatusActive),
	)
	if err != nil {
		return fmt.Errorf("postgres: set duel %s answer: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		d, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if d.Status != domain.DuelStatusActive {
			return &domain.StateError{
				Entity:    "duel",
				ID:        id,
				Current:   string(d.Status),
				Requested: "answer submission",
			}
		}
		return &domain.ValidationError{Field: "answer", Reason: "already submitted"}
	}
	return nil
}

// Complete performs the active→completed transition, recording the winner or
// draw with a compare-and-set on the active status so concurrent resolutions
// settle the duel exactly once.
func (s *DuelStore) Complete(ctx context.Context, id, winnerID string, draw bool) error {
	const query = `
		UPDATE duels SET status = $2, winner_id = NULLIF($3, ''), draw = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.DuelStatusCompleted), winnerID, draw, string(domain.DuelStatusActive))
	if err != nil {
		return fmt.Errorf("postgres: complete duel %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, id, domain.DuelStatusCompleted)
	}
	return nil
}

// Cancel moves an open duel to cancelled.
func (s *DuelStore) Cancel(ctx context.Context, id string) error {
	const query = `
		UPDATE duels SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.DuelStatusCancelled), string(domain.DuelStatusOpen))
	if err != nil {
		return fmt.Errorf("postgres: cancel duel %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, id, domain.DuelStatusCancelled)
	}
	return nil
}

func (s *DuelStore) stateConflict(ctx context.Context, id string, requested domain.DuelStatus) error {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &domain.StateError{
		Entity:    "duel",
		ID:        id,
		Current:   string(d.Status),
		Requested: string(requested),
	}
}

// ClaimWithTransfer flips the calling participant's claimed flag and
// enqueues the outbox transfer in one transaction, mirroring the stake
// claim path.
func (s *DuelStore) ClaimWithTransfer(ctx context.Context, id, userID string, t domain.Transfer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin duel claim: %w", err)
	}
	defer tx.Rollback(ctx)

	var creatorID string
	var opponentID *string
	var creatorClaimed, opponentClaimed bool
	err = tx.QueryRow(ctx,
		`SELECT creator_id, opponent_id, creator_claimed, opponent_claimed
		 FROM duels WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&creatorID, &opponentID, &creatorClaimed, &opponentClaimed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock duel %s: %w", id, err)
	}

	var col string
	switch {
	case userID == creatorID:
		if creatorClaimed {
			return &domain.AlreadyClaimedError{EntityID: id, UserID: userID}
		}
		col = "creator_claimed"
	case opponentID != nil && userID == *opponentID:
		if opponentClaimed {
			return &domain.AlreadyClaimedError{EntityID: id, UserID: userID}
		}
		col = "opponent_claimed"
	default:
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE duels SET `+col+` = TRUE, updated_at = NOW() WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("postgres: mark duel claimed: %w", err)
	}

	if err := enqueueTransferTx(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit duel claim: %w", err)
	}
	return nil
}

// ListByStatus returns duels in the given status, newest first.
func (s *DuelStore) ListByStatus(ctx context.Context, status domain.DuelStatus, opts domain.ListOpts) ([]domain.Duel, error) {
	query := `SELECT ` + duelCols + ` FROM duels WHERE status = $1 ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("postgres: list duels by status %s: %w", status, err)
	}
	defer rows.Close()

	var duels []domain.Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan duel: %w", err)
		}
		duels = append(duels, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: duel rows: %w", err)
	}
	return duels, nil
}

// Compile-time interface check.
var _ domain.DuelStore = (*DuelStore)(nil)
