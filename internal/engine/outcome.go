// Package engine holds the pure settlement math: outcome derivation, duel
// verdicts, and payout computation. Everything here is deterministic given
// its inputs and performs no I/O.
package engine

import "github.com/fanclash/settlement/internal/domain"

// OutcomeFromScore maps an external final score onto a market outcome by
// straightforward comparison: home win, away win, or draw.
func OutcomeFromScore(score domain.FinalScore) domain.Outcome {
	switch {
	case score.Home > score.Away:
		return domain.OutcomeHome
	case score.Away > score.Home:
		return domain.OutcomeAway
	default:
		return domain.OutcomeDraw
	}
}
