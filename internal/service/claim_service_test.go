package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/engine"
)

type claimFixture struct {
	markets *fakeMarketStore
	stakes  *fakeStakeStore
	duels   *fakeDuelStore
	outbox  *fakeOutbox
	claims  *ClaimService
}

func newClaimFixture(t *testing.T, policy engine.RemainderPolicy) *claimFixture {
	t.Helper()
	outbox := newFakeOutbox()
	markets := newFakeMarketStore()
	stakes := newFakeStakeStore(markets, outbox)
	duels := newFakeDuelStore(outbox)
	claims := NewClaimService(markets, stakes, duels, fakeBus{}, &fakeAudit{}, policy, testLogger())
	return &claimFixture{markets: markets, stakes: stakes, duels: duels, outbox: outbox, claims: claims}
}

func seedResolvedMarket(t *testing.T, fx *claimFixture) domain.Market {
	t.Helper()
	ctx := context.Background()

	m := domain.Market{
		ID:       "m1",
		EventRef: "evt-1",
		LockTime: time.Now().Add(-time.Hour),
		Status:   domain.MarketStatusOpen,
		Result:   domain.OutcomeNone,
	}
	require.NoError(t, fx.markets.Create(ctx, m))

	// 600 total: 300 on home (two winners), 200 away, 100 draw.
	for _, s := range []domain.Stake{
		{MarketID: "m1", UserID: "alice", Outcome: domain.OutcomeHome, Amount: 30},
		{MarketID: "m1", UserID: "bob", Outcome: domain.OutcomeHome, Amount: 270},
		{MarketID: "m1", UserID: "carol", Outcome: domain.OutcomeAway, Amount: 200},
		{MarketID: "m1", UserID: "dave", Outcome: domain.OutcomeDraw, Amount: 100},
	} {
		require.NoError(t, fx.stakes.Place(ctx, s))
	}

	require.NoError(t, fx.markets.UpdateStatus(ctx, "m1", domain.MarketStatusOpen, domain.MarketStatusLocked))
	require.NoError(t, fx.markets.Resolve(ctx, "m1", domain.OutcomeHome))

	resolved, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	return resolved
}

func TestClaimStakePaysProRataShare(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	seedResolvedMarket(t, fx)
	ctx := context.Background()

	transfer, err := fx.claims.ClaimStake(ctx, "m1", "alice")
	require.NoError(t, err)

	// floor(30 * 600 / 300) = 60.
	assert.Equal(t, int64(60), transfer.Amount)
	assert.Equal(t, domain.TransferKindPayout, transfer.Kind)
	assert.Equal(t, "alice", transfer.Account)

	transfer, err = fx.claims.ClaimStake(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(540), transfer.Amount)
}

func TestClaimStakeTwiceMovesValueOnce(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	seedResolvedMarket(t, fx)
	ctx := context.Background()

	_, err := fx.claims.ClaimStake(ctx, "m1", "alice")
	require.NoError(t, err)

	_, err = fx.claims.ClaimStake(ctx, "m1", "alice")
	var dup *domain.AlreadyClaimedError
	require.ErrorAs(t, err, &dup)

	assert.Len(t, fx.outbox.all(), 1)
}

func TestClaimStakeConcurrentExactlyOnce(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	seedResolvedMarket(t, fx)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan domain.Transfer, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if transfer, err := fx.claims.ClaimStake(ctx, "m1", "alice"); err == nil {
				successes <- transfer
			}
		}()
	}
	wg.Wait()
	close(successes)

	var won int
	for range successes {
		won++
	}
	assert.Equal(t, 1, won)
	assert.Len(t, fx.outbox.all(), 1)
}

func TestClaimStakeLoserGetsNothing(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	seedResolvedMarket(t, fx)

	_, err := fx.claims.ClaimStake(context.Background(), "m1", "carol")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, fx.outbox.all())
}

func TestClaimStakeOnOpenMarketRejected(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m2", Status: domain.MarketStatusOpen, Result: domain.OutcomeNone,
	}))
	require.NoError(t, fx.stakes.Place(ctx, domain.Stake{
		MarketID: "m2", UserID: "alice", Outcome: domain.OutcomeHome, Amount: 10,
	}))

	_, err := fx.claims.ClaimStake(ctx, "m2", "alice")
	var stateErr *domain.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(domain.MarketStatusOpen), stateErr.Current)
}

func TestClaimStakeCancelledMarketRefundsExactAmounts(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m3", Status: domain.MarketStatusOpen, Result: domain.OutcomeNone,
	}))
	staked := map[string]int64{"alice": 30, "bob": 270, "carol": 200}
	outcomes := map[string]domain.Outcome{
		"alice": domain.OutcomeHome, "bob": domain.OutcomeAway, "carol": domain.OutcomeDraw,
	}
	for user, amount := range staked {
		require.NoError(t, fx.stakes.Place(ctx, domain.Stake{
			MarketID: "m3", UserID: user, Outcome: outcomes[user], Amount: amount,
		}))
	}
	require.NoError(t, fx.markets.UpdateStatus(ctx, "m3", domain.MarketStatusOpen, domain.MarketStatusCancelled))

	var refunded int64
	for user, amount := range staked {
		transfer, err := fx.claims.ClaimStake(ctx, "m3", user)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferKindRefund, transfer.Kind)
		assert.Equal(t, amount, transfer.Amount)
		refunded += transfer.Amount
	}

	// Refunds add up to exactly what was staked; every staker is whole.
	var total int64
	for _, amount := range staked {
		total += amount
	}
	assert.Equal(t, total, refunded)
}

func TestClaimStakeLastClaimantCollectsRemainder(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderLastClaimant)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m4", Status: domain.MarketStatusOpen, Result: domain.OutcomeNone,
	}))
	// Total 100, winning pool 30 split 10/20: payouts floor to 33 and 66,
	// leaving a remainder of 1.
	for _, s := range []domain.Stake{
		{MarketID: "m4", UserID: "alice", Outcome: domain.OutcomeHome, Amount: 10},
		{MarketID: "m4", UserID: "bob", Outcome: domain.OutcomeHome, Amount: 20},
		{MarketID: "m4", UserID: "carol", Outcome: domain.OutcomeAway, Amount: 70},
	} {
		require.NoError(t, fx.stakes.Place(ctx, s))
	}
	require.NoError(t, fx.markets.UpdateStatus(ctx, "m4", domain.MarketStatusOpen, domain.MarketStatusLocked))
	require.NoError(t, fx.markets.Resolve(ctx, "m4", domain.OutcomeHome))

	first, err := fx.claims.ClaimStake(ctx, "m4", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(33), first.Amount)

	last, err := fx.claims.ClaimStake(ctx, "m4", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(67), last.Amount, "final claimant collects the flooring remainder")

	assert.Equal(t, int64(100), first.Amount+last.Amount)
}

func TestClaimDuelWinnerTakesBothStakes(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.duels.Create(ctx, domain.Duel{
		ID: "d1", CreatorID: "alice", OpponentID: "bob",
		StakeAmount: 500, Status: domain.DuelStatusOpen,
		ChallengeType: domain.ChallengeTrivia,
	}))
	require.NoError(t, fx.duels.Join(ctx, "d1", "bob"))
	require.NoError(t, fx.duels.Complete(ctx, "d1", "alice", false))

	transfer, err := fx.claims.ClaimDuel(ctx, "d1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), transfer.Amount)
	assert.Equal(t, domain.TransferKindPayout, transfer.Kind)

	_, err = fx.claims.ClaimDuel(ctx, "d1", "bob")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = fx.claims.ClaimDuel(ctx, "d1", "alice")
	var dup *domain.AlreadyClaimedError
	require.ErrorAs(t, err, &dup)

	assert.Len(t, fx.outbox.all(), 1)
}

func TestClaimDuelDrawRefundsBothSides(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.duels.Create(ctx, domain.Duel{
		ID: "d2", CreatorID: "alice",
		StakeAmount: 500, Status: domain.DuelStatusOpen,
		ChallengeType: domain.ChallengeScoreChallenge,
	}))
	require.NoError(t, fx.duels.Join(ctx, "d2", "bob"))
	require.NoError(t, fx.duels.Complete(ctx, "d2", "", true))

	for _, user := range []string{"alice", "bob"} {
		transfer, err := fx.claims.ClaimDuel(ctx, "d2", user)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferKindRefund, transfer.Kind)
		assert.Equal(t, int64(500), transfer.Amount)
	}
}

func TestClaimDuelCancelledRefundsCreatorOnly(t *testing.T) {
	fx := newClaimFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.duels.Create(ctx, domain.Duel{
		ID: "d3", CreatorID: "alice",
		StakeAmount: 500, Status: domain.DuelStatusOpen,
		ChallengeType: domain.ChallengePrediction, CorrectAnswer: "home",
	}))
	require.NoError(t, fx.duels.Cancel(ctx, "d3"))

	transfer, err := fx.claims.ClaimDuel(ctx, "d3", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferKindRefund, transfer.Kind)
	assert.Equal(t, int64(500), transfer.Amount)

	_, err = fx.claims.ClaimDuel(ctx, "d3", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
