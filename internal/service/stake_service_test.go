package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclash/settlement/internal/domain"
)

func newStakeFixture(t *testing.T) (*fakeMarketStore, *fakeStakeStore, *fakeLimiter, *StakeService) {
	t.Helper()
	outbox := newFakeOutbox()
	markets := newFakeMarketStore()
	stakes := newFakeStakeStore(markets, outbox)
	limiter := &fakeLimiter{}
	svc := NewStakeService(stakes, fakeCache{}, limiter, fakeBus{}, &fakeAudit{}, testLogger())
	return markets, stakes, limiter, svc
}

func openMarket(t *testing.T, markets *fakeMarketStore, id string) {
	t.Helper()
	require.NoError(t, markets.Create(context.Background(), domain.Market{
		ID: id, EventRef: "evt-" + id, Status: domain.MarketStatusOpen,
		LockTime: time.Now().Add(time.Hour),
	}))
}

func TestPlaceStakeUpdatesPools(t *testing.T) {
	markets, _, _, svc := newStakeFixture(t)
	openMarket(t, markets, "m1")
	ctx := context.Background()

	_, err := svc.Place(ctx, "m1", "alice", domain.OutcomeHome, 30)
	require.NoError(t, err)
	_, err = svc.Place(ctx, "m1", "bob", domain.OutcomeAway, 70)
	require.NoError(t, err)

	m, err := markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), m.PoolHome)
	assert.Equal(t, int64(70), m.PoolAway)
	assert.Equal(t, int64(100), m.TotalStaked)
	assert.Equal(t, m.TotalStaked, m.PoolHome+m.PoolAway+m.PoolDraw)
}

func TestPlaceStakeDuplicateLeavesPoolsUnchanged(t *testing.T) {
	markets, _, _, svc := newStakeFixture(t)
	openMarket(t, markets, "m1")
	ctx := context.Background()

	_, err := svc.Place(ctx, "m1", "alice", domain.OutcomeHome, 30)
	require.NoError(t, err)

	_, err = svc.Place(ctx, "m1", "alice", domain.OutcomeAway, 50)
	var dup *domain.DuplicateStakeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "alice", dup.UserID)

	m, err := markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), m.TotalStaked)
	assert.Equal(t, int64(0), m.PoolAway)
}

func TestPlaceStakeOnLockedMarketRejected(t *testing.T) {
	markets, _, _, svc := newStakeFixture(t)
	openMarket(t, markets, "m1")
	ctx := context.Background()

	require.NoError(t, markets.UpdateStatus(ctx, "m1", domain.MarketStatusOpen, domain.MarketStatusLocked))

	_, err := svc.Place(ctx, "m1", "alice", domain.OutcomeHome, 30)
	var stateErr *domain.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(domain.MarketStatusLocked), stateErr.Current)

	m, err := markets.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, m.TotalStaked)
}

func TestPlaceStakeValidation(t *testing.T) {
	markets, _, _, svc := newStakeFixture(t)
	openMarket(t, markets, "m1")
	ctx := context.Background()

	cases := []struct {
		name     string
		marketID string
		userID   string
		outcome  domain.Outcome
		amount   int64
	}{
		{"empty market", "", "alice", domain.OutcomeHome, 10},
		{"empty user", "m1", "", domain.OutcomeHome, 10},
		{"bad outcome", "m1", "alice", domain.Outcome("banana"), 10},
		{"none outcome", "m1", "alice", domain.OutcomeNone, 10},
		{"zero amount", "m1", "alice", domain.OutcomeHome, 0},
		{"negative amount", "m1", "alice", domain.OutcomeHome, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Place(ctx, tc.marketID, tc.userID, tc.outcome, tc.amount)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestPlaceStakeRateLimited(t *testing.T) {
	markets, _, limiter, svc := newStakeFixture(t)
	openMarket(t, markets, "m1")
	limiter.deny = true

	_, err := svc.Place(context.Background(), "m1", "alice", domain.OutcomeHome, 10)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
