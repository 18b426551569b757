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

// MarketStore persists pooled prediction markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// UpdateStatus moves a market from one status to another with a
	// compare-and-set on the current status. It returns a *StateError when
	// the market is not in the expected source status, which makes
	// concurrent transitions safely idempotent at the store level.
	UpdateStatus(ctx context.Context, id string, from, to MarketStatus) error
	// Resolve performs the locked→resolved transition and records the
	// result in the same compare-and-set update.
	Resolve(ctx context.Context, id string, result Outcome) error
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// ListLockable returns open markets whose lock time has passed.
	ListLockable(ctx context.Context, now time.Time, limit int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// StakeStore persists stakes and performs the two money-critical compound
// operations: placing a stake and claiming one. Both are single database
// transactions; partial updates are never observable.
type StakeStore interface {
	// Place appends the stake and increments the matching outcome pool and
	// the market total atomically. It returns *StateError if the market is
	// not open and *DuplicateStakeError if the (market, user) pair already
	// has a stake.
	Place(ctx context.Context, s Stake) error
	GetByMarketUser(ctx context.Context, marketID, userID string) (Stake, error)
	ListByMarket(ctx context.Context, marketID string) ([]Stake, error)
	// ClaimWithTransfer flips the stake's claimed flag from false to true
	// and enqueues the outbox transfer in one transaction. It returns
	// *AlreadyClaimedError when the flag is already set, without enqueuing
	// anything.
	ClaimWithTransfer(ctx context.Context, marketID, userID string, t Transfer) error
	// CountUnclaimed returns how many stakes on the given outcome are still
	// unclaimed. Used by the last-claimant remainder policy.
	CountUnclaimed(ctx context.Context, marketID string, outcome Outcome) (int64, error)
}

// DuelStore persists head-to-head duels.
type DuelStore interface {
	Create(ctx context.Context, d Duel) error
	GetByID(ctx context.Context, id string) (Duel, error)
	// Join sets the opponent and moves open→active with a compare-and-set
	// on the open status, so only one opponent can ever take the slot.
	Join(ctx context.Context, id, opponentID string) error
	// SetAnswer records one participant's answer. creator selects which
	// side is written; an already-recorded answer is never overwritten.
	SetAnswer(ctx context.Context, id string, creator bool, a Answer) error
	// Complete performs the active→completed transition, recording the
	// winner (or draw) with a compare-and-set on the active status.
	Complete(ctx context.Context, id, winnerID string, draw bool) error
	Cancel(ctx context.Context, id string) error
	// ClaimWithTransfer flips the calling participant's claimed flag and
	// enqueues the outbox transfer in one transaction.
	ClaimWithTransfer(ctx context.Context, id, userID string, t Transfer) error
	ListByStatus(ctx context.Context, status DuelStatus, opts ListOpts) ([]Duel, error)
}

// TransferOutbox persists pending value transfers awaiting dispatch.
type TransferOutbox interface {
	Enqueue(ctx context.Context, t Transfer) error
	// DequeuePending claims up to limit pending transfers for dispatch,
	// skipping rows locked by concurrent dispatchers.
	DequeuePending(ctx context.Context, limit int) ([]Transfer, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause string) error
}

// AuditStore persists an append-only audit log of every money-moving
// operation.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
