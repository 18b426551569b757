package domain

import "time"

// TransferStatus tracks an outbox transfer through dispatch.
type TransferStatus string

const (
	TransferStatusPending TransferStatus = "pending"
	TransferStatusSent    TransferStatus = "sent"
	TransferStatusFailed  TransferStatus = "failed"
)

// TransferKind records why value moved.
type TransferKind string

const (
	TransferKindPayout    TransferKind = "payout"
	TransferKindRefund    TransferKind = "refund"
	TransferKindRemainder TransferKind = "remainder"
)

// Transfer is a transactional-outbox row. It is inserted in the same
// database transaction that marks a stake claimed, so a stake is never
// marked paid without a recorded obligation to pay. The row ID doubles as
// the idempotency key passed to the external value-transfer service, making
// dispatch retries safe.
type Transfer struct {
	ID        string
	Kind      TransferKind
	EntityID  string // market or duel ID
	Account   string // destination user/account identifier
	Amount    int64
	Status    TransferStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    *time.Time
}
