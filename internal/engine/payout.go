package engine

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/fanclash/settlement/internal/domain"
)

// RemainderPolicy fixes what happens to the pool value that floor division
// leaves undistributed on a resolved market.
type RemainderPolicy string

const (
	// RemainderForfeit leaves the remainder unclaimed in the pool.
	RemainderForfeit RemainderPolicy = "forfeit"
	// RemainderTreasury transfers the remainder to the protocol treasury
	// account when the market resolves.
	RemainderTreasury RemainderPolicy = "treasury"
	// RemainderLastClaimant credits the remainder to the final winning
	// stake to be claimed.
	RemainderLastClaimant RemainderPolicy = "last_claimant"
)

// Valid reports whether p is a known remainder policy.
func (p RemainderPolicy) Valid() bool {
	switch p {
	case RemainderForfeit, RemainderTreasury, RemainderLastClaimant:
		return true
	}
	return false
}

// PoolPayout computes floor(stake × total / winningPool) in integer
// arithmetic. The intermediate product is carried in 128 bits so large pools
// cannot silently wrap; a quotient that does not fit int64 is an
// *ArithmeticError, never a rounded result.
func PoolPayout(stake, winningPool, total int64) (int64, error) {
	if stake < 0 || winningPool < 0 || total < 0 {
		return 0, &domain.ArithmeticError{
			Op:     "pool payout",
			Detail: fmt.Sprintf("negative input: stake=%d pool=%d total=%d", stake, winningPool, total),
		}
	}
	if winningPool == 0 {
		return 0, &domain.ArithmeticError{
			Op:     "pool payout",
			Detail: "winning pool is empty",
		}
	}
	if stake > winningPool || winningPool > total {
		return 0, &domain.ArithmeticError{
			Op:     "pool payout",
			Detail: fmt.Sprintf("inconsistent pools: stake=%d pool=%d total=%d", stake, winningPool, total),
		}
	}

	hi, lo := bits.Mul64(uint64(stake), uint64(total))
	if hi >= uint64(winningPool) {
		return 0, &domain.ArithmeticError{
			Op:     "pool payout",
			Detail: "quotient overflows int64",
		}
	}
	quo, _ := bits.Div64(hi, lo, uint64(winningPool))
	if quo > math.MaxInt64 {
		return 0, &domain.ArithmeticError{
			Op:     "pool payout",
			Detail: "quotient overflows int64",
		}
	}
	return int64(quo), nil
}

// PoolRemainder computes the undistributed value of a resolved market:
// total staked minus the sum of every winning stake's floored payout. The
// result is always in [0, len(winners)) when the inputs are consistent.
func PoolRemainder(winners []domain.Stake, winningPool, total int64) (int64, error) {
	var distributed int64
	for _, s := range winners {
		p, err := PoolPayout(s.Amount, winningPool, total)
		if err != nil {
			return 0, err
		}
		distributed += p
	}
	if distributed > total {
		return 0, &domain.ArithmeticError{
			Op:     "pool remainder",
			Detail: fmt.Sprintf("distributed %d exceeds total %d", distributed, total),
		}
	}
	return total - distributed, nil
}

// DuelPayout is the winner-takes-all amount for a duel: both stakes.
func DuelPayout(stakeAmount int64) (int64, error) {
	if stakeAmount < 0 || stakeAmount > math.MaxInt64/2 {
		return 0, &domain.ArithmeticError{
			Op:     "duel payout",
			Detail: fmt.Sprintf("stake amount %d out of range", stakeAmount),
		}
	}
	return 2 * stakeAmount, nil
}
