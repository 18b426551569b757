package domain

import "time"

// Stake is one user's wagered amount and chosen outcome within a market.
// The (MarketID, UserID) pair is unique. A stake is mutated exactly once,
// by the claim processor flipping Claimed from false to true.
type Stake struct {
	MarketID string
	UserID   string
	Outcome  Outcome
	Amount   int64
	Claimed  bool
	PlacedAt time.Time
}
