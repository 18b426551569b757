package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketTransitions(t *testing.T) {
	cases := []struct {
		from MarketStatus
		to   MarketStatus
		ok   bool
	}{
		{MarketStatusOpen, MarketStatusLocked, true},
		{MarketStatusOpen, MarketStatusCancelled, true},
		{MarketStatusOpen, MarketStatusResolved, false},
		{MarketStatusLocked, MarketStatusResolved, true},
		{MarketStatusLocked, MarketStatusCancelled, true},
		{MarketStatusLocked, MarketStatusOpen, false},
		{MarketStatusResolved, MarketStatusCancelled, false},
		{MarketStatusResolved, MarketStatusLocked, false},
		{MarketStatusCancelled, MarketStatusOpen, false},
		{MarketStatusCancelled, MarketStatusResolved, false},
	}

	for _, tc := range cases {
		m := Market{ID: "m1", Status: tc.from}
		err := m.CanTransition(tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s should be legal", tc.from, tc.to)
			continue
		}
		require.Error(t, err, "%s -> %s should be rejected", tc.from, tc.to)

		var se *StateError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, string(tc.from), se.Current)
		assert.Equal(t, string(tc.to), se.Requested)
		assert.Equal(t, "market", se.Entity)
	}
}

func TestDuelTransitions(t *testing.T) {
	cases := []struct {
		from DuelStatus
		to   DuelStatus
		ok   bool
	}{
		{DuelStatusOpen, DuelStatusActive, true},
		{DuelStatusOpen, DuelStatusCancelled, true},
		{DuelStatusOpen, DuelStatusCompleted, false},
		{DuelStatusActive, DuelStatusCompleted, true},
		{DuelStatusActive, DuelStatusCancelled, false},
		{DuelStatusActive, DuelStatusOpen, false},
		{DuelStatusCompleted, DuelStatusActive, false},
		{DuelStatusCancelled, DuelStatusActive, false},
	}

	for _, tc := range cases {
		d := Duel{ID: "d1", Status: tc.from}
		err := d.CanTransition(tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s should be legal", tc.from, tc.to)
		} else {
			var se *StateError
			require.ErrorAs(t, err, &se, "%s -> %s should be rejected", tc.from, tc.to)
			assert.Equal(t, "duel", se.Entity)
		}
	}
}

func TestMarketAddStakeKeepsPoolSum(t *testing.T) {
	m := Market{ID: "m1", Status: MarketStatusOpen}
	m.AddStake(OutcomeHome, 300)
	m.AddStake(OutcomeAway, 200)
	m.AddStake(OutcomeDraw, 100)
	m.AddStake(OutcomeHome, 50)

	assert.Equal(t, int64(350), m.PoolHome)
	assert.Equal(t, int64(200), m.PoolAway)
	assert.Equal(t, int64(100), m.PoolDraw)
	assert.Equal(t, m.PoolHome+m.PoolAway+m.PoolDraw, m.TotalStaked)
}

func TestMarketLockable(t *testing.T) {
	lockAt := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	m := Market{ID: "m1", Status: MarketStatusOpen, LockTime: lockAt}

	assert.False(t, m.Lockable(lockAt.Add(-time.Minute)))
	assert.True(t, m.Lockable(lockAt))
	assert.True(t, m.Lockable(lockAt.Add(time.Hour)))

	m.Status = MarketStatusLocked
	assert.False(t, m.Lockable(lockAt.Add(time.Hour)))
}
