package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclash/settlement/internal/domain"
)

func newDuelFixture(t *testing.T) (*fakeDuelStore, *DuelService) {
	t.Helper()
	duels := newFakeDuelStore(newFakeOutbox())
	svc := NewDuelService(duels, fakeBus{}, &fakeAudit{}, testLogger())
	return duels, svc
}

func TestDuelFullLifecycle(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 500, domain.ChallengePrediction, "home")
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusOpen, d.Status)

	require.NoError(t, svc.Join(ctx, d.ID, "bob"))

	joined, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusActive, joined.Status)
	assert.Equal(t, "bob", joined.OpponentID)

	// Creator answers correctly, opponent does not.
	require.NoError(t, svc.SubmitAnswer(ctx, d.ID, "alice", "home", 0))
	require.NoError(t, svc.SubmitAnswer(ctx, d.ID, "bob", "away", 0))

	done, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusCompleted, done.Status)
	assert.Equal(t, "alice", done.WinnerID)
	assert.False(t, done.Draw)
}

func TestDuelScoreChallengeDraw(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 200, domain.ChallengeScoreChallenge, "")
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, d.ID, "bob"))

	require.NoError(t, svc.SubmitAnswer(ctx, d.ID, "alice", "", 3))
	require.NoError(t, svc.SubmitAnswer(ctx, d.ID, "bob", "", 3))

	done, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusCompleted, done.Status)
	assert.True(t, done.Draw)
	assert.Empty(t, done.WinnerID)
}

func TestDuelCreateRejectsStakeAboveCap(t *testing.T) {
	_, svc := newDuelFixture(t)
	svc = svc.WithMaxStake(1000)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", 1001, domain.ChallengeTrivia, "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "stake_amount", verr.Field)

	_, err = svc.Create(ctx, "alice", 1000, domain.ChallengeTrivia, "")
	require.NoError(t, err)
}

func TestDuelCreatorCannotJoinOwnDuel(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 100, domain.ChallengeTrivia, "")
	require.NoError(t, err)

	err = svc.Join(ctx, d.ID, "alice")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDuelSecondOpponentRejected(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 100, domain.ChallengeTrivia, "")
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, d.ID, "bob"))

	err = svc.Join(ctx, d.ID, "carol")
	var stateErr *domain.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(domain.DuelStatusActive), stateErr.Current)
}

func TestDuelNonParticipantCannotAnswer(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 100, domain.ChallengeTrivia, "")
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, d.ID, "bob"))

	err = svc.SubmitAnswer(ctx, d.ID, "mallory", "", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuelDoubleAnswerRejected(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 100, domain.ChallengeTrivia, "")
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, d.ID, "bob"))

	require.NoError(t, svc.SubmitAnswer(ctx, d.ID, "alice", "", 5))
	err = svc.SubmitAnswer(ctx, d.ID, "alice", "", 9)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDuelCancelOnlyByCreatorWhileOpen(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, "alice", 100, domain.ChallengeTrivia, "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Cancel(ctx, d.ID, "bob"), domain.ErrNotFound)
	require.NoError(t, svc.Cancel(ctx, d.ID, "alice"))

	cancelled, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusCancelled, cancelled.Status)

	// Active duels cannot be cancelled.
	d2, err := svc.Create(ctx, "alice", 100, domain.ChallengeTrivia, "")
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, d2.ID, "bob"))

	var stateErr *domain.StateError
	require.ErrorAs(t, svc.Cancel(ctx, d2.ID, "alice"), &stateErr)
}

func TestDuelCreateValidation(t *testing.T) {
	_, svc := newDuelFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		creator string
		amount  int64
		typ     domain.ChallengeType
		answer  string
	}{
		{"empty creator", "", 100, domain.ChallengeTrivia, ""},
		{"zero stake", "alice", 0, domain.ChallengeTrivia, ""},
		{"negative stake", "alice", -10, domain.ChallengeTrivia, ""},
		{"bad type", "alice", 100, domain.ChallengeType("chess"), ""},
		{"prediction without answer", "alice", 100, domain.ChallengePrediction, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.creator, tc.amount, tc.typ, tc.answer)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
