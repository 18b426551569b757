package domain

import "time"

// DuelStatus represents the lifecycle state of a head-to-head duel.
type DuelStatus string

const (
	DuelStatusOpen      DuelStatus = "open"
	DuelStatusActive    DuelStatus = "active"
	DuelStatusCompleted DuelStatus = "completed"
	DuelStatusCancelled DuelStatus = "cancelled"
)

// ChallengeType selects the rule set used to compare duel answers.
type ChallengeType string

const (
	ChallengePrediction     ChallengeType = "prediction"
	ChallengeTrivia         ChallengeType = "trivia"
	ChallengeScoreChallenge ChallengeType = "score_challenge"
)

// Valid reports whether t is a known challenge type.
func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengePrediction, ChallengeTrivia, ChallengeScoreChallenge:
		return true
	}
	return false
}

// Answer is one participant's submission. Prediction challenges compare
// Value against the duel's recorded correct answer with SubmittedAt as the
// tie-break; trivia and score challenges compare Score.
type Answer struct {
	Value       string
	Score       int64
	SubmittedAt time.Time
}

// Duel is a head-to-head wager between exactly two participants. Both sides
// stake the same amount; the winner takes both stakes, a draw refunds each
// side exactly.
type Duel struct {
	ID              string
	CreatorID       string
	OpponentID      string // empty until an opponent joins
	StakeAmount     int64
	Status          DuelStatus
	ChallengeType   ChallengeType
	CorrectAnswer   string // recorded at creation for prediction duels
	CreatorAnswer   *Answer
	OpponentAnswer  *Answer
	WinnerID        string // set only once both answers are present
	Draw            bool
	CreatorClaimed  bool
	OpponentClaimed bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Participant reports whether userID is one of the duel's two sides.
func (d *Duel) Participant(userID string) bool {
	return userID == d.CreatorID || (d.OpponentID != "" && userID == d.OpponentID)
}

// duelTransitions enumerates the legal forward edges of the duel state
// machine. Cancellation is only reachable while the duel is still waiting
// for an opponent.
var duelTransitions = map[DuelStatus][]DuelStatus{
	DuelStatusOpen:   {DuelStatusActive, DuelStatusCancelled},
	DuelStatusActive: {DuelStatusCompleted},
}

// CanTransition returns nil if moving from the duel's current status to next
// is legal, and a *StateError naming both states otherwise.
func (d *Duel) CanTransition(next DuelStatus) error {
	for _, allowed := range duelTransitions[d.Status] {
		if next == allowed {
			return nil
		}
	}
	return &StateError{
		Entity:    "duel",
		ID:        d.ID,
		Current:   string(d.Status),
		Requested: string(next),
	}
}
