package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/engine"
)

type settlerFixture struct {
	markets *fakeMarketStore
	stakes  *fakeStakeStore
	outbox  *fakeOutbox
	results *fakeResults
	locks   *fakeLocks
	settler *Settler
}

func newSettlerFixture(t *testing.T, policy engine.RemainderPolicy) *settlerFixture {
	t.Helper()
	outbox := newFakeOutbox()
	markets := newFakeMarketStore()
	stakes := newFakeStakeStore(markets, outbox)
	results := newFakeResults()
	locks := newFakeLocks()
	settler := NewSettler(markets, stakes, outbox, results, locks, fakeCache{}, fakeBus{}, &fakeAudit{}, policy, testLogger())
	return &settlerFixture{
		markets: markets,
		stakes:  stakes,
		outbox:  outbox,
		results: results,
		locks:   locks,
		settler: settler,
	}
}

func TestSettlerLocksDueMarkets(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "due", EventRef: "evt-due", Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "future", EventRef: "evt-future", Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(time.Hour),
	}))

	require.NoError(t, fx.settler.Run(ctx))

	due, err := fx.markets.GetByID(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusLocked, due.Status)

	future, err := fx.markets.GetByID(ctx, "future")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, future.Status)
}

func TestSettlerResolvesWithFinalScore(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderForfeit)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusLocked,
		LockTime: time.Now().Add(-time.Hour),
	}))
	fx.results.scores["evt-1"] = domain.FinalScore{Home: 2, Away: 1}

	require.NoError(t, fx.settler.Run(ctx))

	m, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeHome, m.Result)
}

func TestSettlerLeavesMarketLockedWhenResultUnavailable(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusLocked,
		LockTime: time.Now().Add(-time.Hour), Result: domain.OutcomeNone,
	}))

	require.NoError(t, fx.settler.Run(ctx))

	m, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusLocked, m.Status)
	assert.Equal(t, domain.OutcomeNone, m.Result)
	assert.Empty(t, fx.outbox.all())
}

func TestSettlerRepeatedRunsResolveOnce(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderForfeit)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusLocked,
		LockTime: time.Now().Add(-time.Hour),
	}))
	fx.results.scores["evt-1"] = domain.FinalScore{Home: 0, Away: 0}

	require.NoError(t, fx.settler.Run(ctx))
	require.NoError(t, fx.settler.Run(ctx))
	require.NoError(t, fx.settler.Run(ctx))

	m, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeDraw, m.Result)
}

func TestSettlerResolveManual(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderForfeit)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-unlisted", Status: domain.MarketStatusLocked,
		LockTime: time.Now().Add(-time.Hour),
	}))

	// The score authority has nothing for this event; the operator supplies
	// the score directly.
	require.NoError(t, fx.settler.ResolveManual(ctx, "m1", domain.FinalScore{Home: 0, Away: 2}))

	m, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeAway, m.Result)

	// Resolving again is a no-op success.
	require.NoError(t, fx.settler.ResolveManual(ctx, "m1", domain.FinalScore{Home: 0, Away: 2}))
}

func TestSettlerResolveManualRejectsOpenMarket(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderForfeit)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(time.Hour),
	}))

	err := fx.settler.ResolveManual(ctx, "m1", domain.FinalScore{Home: 1, Away: 0})
	var stateErr *domain.StateError
	require.ErrorAs(t, err, &stateErr)

	m, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
}

func TestSettlerEnqueuesTreasuryRemainder(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(-time.Hour),
	}))
	// Total 100, winning pool 30 split 10/20: payouts 33 + 66 leave 1.
	for _, s := range []domain.Stake{
		{MarketID: "m1", UserID: "alice", Outcome: domain.OutcomeHome, Amount: 10},
		{MarketID: "m1", UserID: "bob", Outcome: domain.OutcomeHome, Amount: 20},
		{MarketID: "m1", UserID: "carol", Outcome: domain.OutcomeAway, Amount: 70},
	} {
		require.NoError(t, fx.stakes.Place(ctx, s))
	}
	fx.results.scores["evt-1"] = domain.FinalScore{Home: 3, Away: 0}

	require.NoError(t, fx.settler.Run(ctx))

	transfers := fx.outbox.all()
	require.Len(t, transfers, 1)
	assert.Equal(t, domain.TransferKindRemainder, transfers[0].Kind)
	assert.Equal(t, defaultTreasuryAccount, transfers[0].Account)
	assert.Equal(t, int64(1), transfers[0].Amount)
}

func TestSettlerSweepsWholePoolWhenNobodyWon(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(-time.Hour),
	}))
	for _, s := range []domain.Stake{
		{MarketID: "m1", UserID: "alice", Outcome: domain.OutcomeAway, Amount: 40},
		{MarketID: "m1", UserID: "bob", Outcome: domain.OutcomeDraw, Amount: 60},
	} {
		require.NoError(t, fx.stakes.Place(ctx, s))
	}
	fx.results.scores["evt-1"] = domain.FinalScore{Home: 1, Away: 0}

	require.NoError(t, fx.settler.Run(ctx))

	transfers := fx.outbox.all()
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(100), transfers[0].Amount)
}

func TestSettlerYieldsWhenLockHeld(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	unlock, err := fx.locks.Acquire(ctx, settlerLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "due", EventRef: "evt-due", Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(-time.Minute),
	}))

	require.NoError(t, fx.settler.Run(ctx))

	m, err := fx.markets.GetByID(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, m.Status, "pass yields while another settler holds the lock")
}

func TestSettlerBacksOffAfterFailedFetch(t *testing.T) {
	fx := newSettlerFixture(t, engine.RemainderTreasury)
	ctx := context.Background()

	require.NoError(t, fx.markets.Create(ctx, domain.Market{
		ID: "m1", EventRef: "evt-1", Status: domain.MarketStatusLocked,
		LockTime: time.Now().Add(-time.Hour),
	}))

	require.NoError(t, fx.settler.Run(ctx))

	// The result arrives, but the market is in backoff; the very next pass
	// skips it.
	fx.results.scores["evt-1"] = domain.FinalScore{Home: 1, Away: 0}
	require.NoError(t, fx.settler.Run(ctx))

	m, err := fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusLocked, m.Status)

	// Once the backoff elapses the market resolves.
	fx.settler.clearFailure("m1")
	require.NoError(t, fx.settler.Run(ctx))

	m, err = fx.markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
}
