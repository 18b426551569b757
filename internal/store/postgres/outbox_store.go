package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanclash/settlement/internal/domain"
)

// OutboxStore implements domain.TransferOutbox using PostgreSQL.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore creates a new OutboxStore backed by the given connection pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// enqueueTransferTx inserts an outbox row inside an existing transaction.
// Shared with the stake and duel claim paths so the claimed flag and the
// transfer obligation commit or roll back together.
func enqueueTransferTx(ctx context.Context, tx pgx.Tx, t domain.Transfer) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transfer_outbox (id, kind, entity_id, account, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', NOW())`,
		t.ID, string(t.Kind), t.EntityID, t.Account, t.Amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: enqueue transfer %s: %w", t.ID, err)
	}
	return nil
}

// Enqueue inserts a standalone pending transfer, used for remainder payouts
// that are not tied to a claim transaction.
func (s *OutboxStore) Enqueue(ctx context.Context, t domain.Transfer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := enqueueTransferTx(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit enqueue: %w", err)
	}
	return nil
}

// DequeuePending leases up to limit due pending transfers, oldest first.
// The lease pushes next_attempt_at forward so concurrent dispatchers skip
// the same rows, and a dispatcher crash simply lets the lease lapse. The
// transfer ID is the idempotency key, so a re-dispatch after a lapsed lease
// cannot pay twice.
func (s *OutboxStore) DequeuePending(ctx context.Context, limit int) ([]domain.Transfer, error) {
	const query = `
		UPDATE transfer_outbox
		SET next_attempt_at = NOW() + INTERVAL '2 minutes'
		WHERE id IN (
			SELECT id FROM transfer_outbox
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, entity_id, account, amount, status, attempts, last_error, created_at, sent_at`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: dequeue pending transfers: %w", err)
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var kind, status string
		if err := rows.Scan(
			&t.ID, &kind, &t.EntityID, &t.Account, &t.Amount,
			&status, &t.Attempts, &t.LastError, &t.CreatedAt, &t.SentAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Kind = domain.TransferKind(kind)
		t.Status = domain.TransferStatus(status)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transfer rows: %w", err)
	}
	return transfers, nil
}

// MarkSent records a successful dispatch.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transfer_outbox
		 SET status = 'sent', sent_at = NOW(), attempts = attempts + 1
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark transfer %s sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed dispatch attempt. The row stays pending and
// becomes due again after a backoff that grows with the attempt count; the
// failure cause is kept for investigation.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE transfer_outbox
		 SET attempts = attempts + 1,
		     last_error = $2,
		     next_attempt_at = NOW() + INTERVAL '30 seconds' * LEAST(attempts + 1, 20)
		 WHERE id = $1`,
		id, cause,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark transfer %s failed: %w", id, err)
	}
	return nil
}

// ListSentBefore returns all dispatched transfers sent strictly before the
// cutoff, oldest first. Used by the archiver to export settled value
// movements.
func (s *OutboxStore) ListSentBefore(ctx context.Context, before time.Time) ([]domain.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, entity_id, account, amount, status, attempts, last_error, created_at, sent_at
		 FROM transfer_outbox
		 WHERE status = 'sent' AND sent_at < $1
		 ORDER BY sent_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sent transfers before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var kind, status string
		if err := rows.Scan(
			&t.ID, &kind, &t.EntityID, &t.Account, &t.Amount,
			&status, &t.Attempts, &t.LastError, &t.CreatedAt, &t.SentAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Kind = domain.TransferKind(kind)
		t.Status = domain.TransferStatus(status)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transfer rows: %w", err)
	}
	return transfers, nil
}

// Compile-time interface check.
var _ domain.TransferOutbox = (*OutboxStore)(nil)
