// Package domain defines the core settlement types, their lifecycle rules,
// and the store and collaborator interfaces implemented by the adapters.
package domain

import "time"

// MarketStatus represents the lifecycle state of a pooled prediction market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusLocked    MarketStatus = "locked"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Outcome identifies one of the three possible results of a pooled market.
type Outcome string

const (
	OutcomeNone Outcome = "none"
	OutcomeHome Outcome = "home"
	OutcomeAway Outcome = "away"
	OutcomeDraw Outcome = "draw"
)

// Outcomes lists the stakeable outcomes in canonical order.
var Outcomes = [3]Outcome{OutcomeHome, OutcomeAway, OutcomeDraw}

// Valid reports whether o is a stakeable outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeHome || o == OutcomeAway || o == OutcomeDraw
}

// Market is a pooled prediction market tied to one external event. Amounts
// are integer minor units; the per-outcome pools must always sum to
// TotalStaked. Markets are never deleted: resolved and cancelled markets are
// retained for audit and claim history.
type Market struct {
	ID          string
	EventRef    string
	LockTime    time.Time
	EventTime   time.Time
	Status      MarketStatus
	Result      Outcome
	TotalStaked int64
	PoolHome    int64
	PoolAway    int64
	PoolDraw    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Pool returns the pooled amount staked on the given outcome.
func (m *Market) Pool(o Outcome) int64 {
	switch o {
	case OutcomeHome:
		return m.PoolHome
	case OutcomeAway:
		return m.PoolAway
	case OutcomeDraw:
		return m.PoolDraw
	default:
		return 0
	}
}

// AddStake credits amount to the pool for the given outcome and to the
// market total. The two updates are inseparable so the pool-sum invariant
// holds after every call.
func (m *Market) AddStake(o Outcome, amount int64) {
	switch o {
	case OutcomeHome:
		m.PoolHome += amount
	case OutcomeAway:
		m.PoolAway += amount
	case OutcomeDraw:
		m.PoolDraw += amount
	default:
		return
	}
	m.TotalStaked += amount
}

// marketTransitions enumerates the legal forward edges of the market state
// machine. Transitions are monotonic; a market never returns to an earlier
// state.
var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketStatusOpen:   {MarketStatusLocked, MarketStatusCancelled},
	MarketStatusLocked: {MarketStatusResolved, MarketStatusCancelled},
}

// CanTransition returns nil if moving from the market's current status to
// next is legal, and a *StateError naming both states otherwise.
func (m *Market) CanTransition(next MarketStatus) error {
	for _, allowed := range marketTransitions[m.Status] {
		if next == allowed {
			return nil
		}
	}
	return &StateError{
		Entity:    "market",
		ID:        m.ID,
		Current:   string(m.Status),
		Requested: string(next),
	}
}

// Lockable reports whether the market may be auto-locked at the given time.
func (m *Market) Lockable(now time.Time) bool {
	return m.Status == MarketStatusOpen && !now.Before(m.LockTime)
}

// FinalScore is the authoritative final score of an external event, as
// reported by the result source.
type FinalScore struct {
	Home int
	Away int
}
