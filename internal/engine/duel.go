package engine

import "github.com/fanclash/settlement/internal/domain"

// Side identifies which duel participant a verdict refers to.
type Side int

const (
	SideNone Side = iota
	SideCreator
	SideOpponent
)

// Verdict is the outcome of comparing both duel answers.
type Verdict struct {
	Winner Side
	Draw   bool
}

// ResolveDuel compares both participants' answers under the rules of the
// given challenge type and returns the verdict.
//
//   - prediction: an answer is correct when it equals the recorded correct
//     answer. Exactly one correct → that side wins. Both correct → the
//     earlier submission wins. Both wrong → draw.
//   - trivia / score_challenge: strictly higher score wins; equal → draw.
func ResolveDuel(typ domain.ChallengeType, correctAnswer string, creator, opponent domain.Answer) (Verdict, error) {
	switch typ {
	case domain.ChallengePrediction:
		return resolvePrediction(correctAnswer, creator, opponent), nil
	case domain.ChallengeTrivia, domain.ChallengeScoreChallenge:
		return resolveByScore(creator, opponent), nil
	default:
		return Verdict{}, &domain.ValidationError{
			Field:  "challenge_type",
			Reason: "unknown challenge type " + string(typ),
		}
	}
}

func resolvePrediction(correct string, creator, opponent domain.Answer) Verdict {
	creatorRight := creator.Value == correct
	opponentRight := opponent.Value == correct

	switch {
	case creatorRight && !opponentRight:
		return Verdict{Winner: SideCreator}
	case opponentRight && !creatorRight:
		return Verdict{Winner: SideOpponent}
	case creatorRight && opponentRight:
		// Both correct: earlier submission wins. Identical timestamps are a
		// draw rather than an arbitrary pick.
		switch {
		case creator.SubmittedAt.Before(opponent.SubmittedAt):
			return Verdict{Winner: SideCreator}
		case opponent.SubmittedAt.Before(creator.SubmittedAt):
			return Verdict{Winner: SideOpponent}
		default:
			return Verdict{Draw: true}
		}
	default:
		return Verdict{Draw: true}
	}
}

func resolveByScore(creator, opponent domain.Answer) Verdict {
	switch {
	case creator.Score > opponent.Score:
		return Verdict{Winner: SideCreator}
	case opponent.Score > creator.Score:
		return Verdict{Winner: SideOpponent}
	default:
		return Verdict{Draw: true}
	}
}
