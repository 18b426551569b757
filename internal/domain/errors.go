package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrLockHeld    = errors.New("lock already held")
	ErrRateLimited = errors.New("rate limited")

	// ErrResultUnavailable signals that the external result source could not
	// supply a usable final score yet. Transient: the entity stays in its
	// current state and the settler retries with backoff.
	ErrResultUnavailable = errors.New("result not yet available")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateError reports an operation attempted from an incompatible lifecycle
// state. It always names both the current and the requested state.
type StateError struct {
	Entity    string // "market" or "duel"
	ID        string
	Current   string
	Requested string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s is %s, cannot transition to %s",
		e.Entity, e.ID, e.Current, e.Requested)
}

// DuplicateStakeError reports a second stake by the same user on the same
// market. One stake per user per market is enforced by a unique constraint.
type DuplicateStakeError struct {
	MarketID string
	UserID   string
}

func (e *DuplicateStakeError) Error() string {
	return fmt.Sprintf("user %s already has a stake on market %s", e.UserID, e.MarketID)
}

// AlreadyClaimedError reports a second claim on an already-paid stake.
type AlreadyClaimedError struct {
	EntityID string
	UserID   string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("stake of user %s on %s is already claimed", e.UserID, e.EntityID)
}

// ArithmeticError reports an overflow or inconsistency detected during pool
// or payout computation. Fatal for the operation; never rounded away.
type ArithmeticError struct {
	Op     string
	Detail string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s: %s", e.Op, e.Detail)
}
