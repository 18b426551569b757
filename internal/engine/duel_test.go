package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclash/settlement/internal/domain"
)

func answerAt(value string, t time.Time) domain.Answer {
	return domain.Answer{Value: value, SubmittedAt: t}
}

func TestResolvePrediction(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 20, 0, 10, 0, time.UTC)
	t1 := t0.Add(10 * time.Second)

	cases := []struct {
		name     string
		creator  domain.Answer
		opponent domain.Answer
		want     Verdict
	}{
		{"creator correct", answerAt("home", t0), answerAt("away", t1), Verdict{Winner: SideCreator}},
		{"opponent correct", answerAt("draw", t0), answerAt("home", t1), Verdict{Winner: SideOpponent}},
		{"both correct, creator earlier", answerAt("home", t0), answerAt("home", t1), Verdict{Winner: SideCreator}},
		{"both correct, opponent earlier", answerAt("home", t1), answerAt("home", t0), Verdict{Winner: SideOpponent}},
		{"both correct, same instant", answerAt("home", t0), answerAt("home", t0), Verdict{Draw: true}},
		{"both wrong", answerAt("away", t0), answerAt("draw", t1), Verdict{Draw: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveDuel(domain.ChallengePrediction, "home", tc.creator, tc.opponent)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveByScore(t *testing.T) {
	for _, typ := range []domain.ChallengeType{domain.ChallengeTrivia, domain.ChallengeScoreChallenge} {
		got, err := ResolveDuel(typ, "", domain.Answer{Score: 5}, domain.Answer{Score: 3})
		require.NoError(t, err)
		assert.Equal(t, Verdict{Winner: SideCreator}, got)

		got, err = ResolveDuel(typ, "", domain.Answer{Score: 2}, domain.Answer{Score: 9})
		require.NoError(t, err)
		assert.Equal(t, Verdict{Winner: SideOpponent}, got)

		// Equal scores are a draw: creator 3 vs opponent 3.
		got, err = ResolveDuel(typ, "", domain.Answer{Score: 3}, domain.Answer{Score: 3})
		require.NoError(t, err)
		assert.Equal(t, Verdict{Draw: true}, got)
	}
}

func TestResolveDuelUnknownType(t *testing.T) {
	var ve *domain.ValidationError
	_, err := ResolveDuel(domain.ChallengeType("arm_wrestling"), "", domain.Answer{}, domain.Answer{})
	require.ErrorAs(t, err, &ve)
}

func TestResolveDuelDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 20, 0, 10, 0, time.UTC)
	creator := answerAt("home", t0)
	opponent := answerAt("home", t0.Add(10*time.Second))

	first, err := ResolveDuel(domain.ChallengePrediction, "home", creator, opponent)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		again, err := ResolveDuel(domain.ChallengePrediction, "home", creator, opponent)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOutcomeFromScore(t *testing.T) {
	assert.Equal(t, domain.OutcomeHome, OutcomeFromScore(domain.FinalScore{Home: 3, Away: 1}))
	assert.Equal(t, domain.OutcomeAway, OutcomeFromScore(domain.FinalScore{Home: 0, Away: 2}))
	assert.Equal(t, domain.OutcomeDraw, OutcomeFromScore(domain.FinalScore{Home: 2, Away: 2}))
	assert.Equal(t, domain.OutcomeDraw, OutcomeFromScore(domain.FinalScore{}))
}
