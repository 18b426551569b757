package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/engine"
)

// DuelService handles the head-to-head duel lifecycle. A duel completes
// automatically the moment the second answer lands: the verdict is computed
// in process and committed with a compare-and-set, so two racing submitters
// settle the duel exactly once.
type DuelService struct {
	duels    domain.DuelStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
	maxStake int64
}

// NewDuelService creates a DuelService with all required dependencies.
func NewDuelService(
	duels domain.DuelStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *DuelService {
	return &DuelService{
		duels:  duels,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// WithMaxStake caps the per-duel wager. Zero or negative leaves the cap
// disabled.
func (s *DuelService) WithMaxStake(maxStake int64) *DuelService {
	if maxStake > 0 {
		s.maxStake = maxStake
	}
	return s
}

// Create opens a duel waiting for an opponent. Prediction duels must record
// the correct answer up front; it is the reference both submissions are
// compared against.
func (s *DuelService) Create(ctx context.Context, creatorID string, stakeAmount int64, typ domain.ChallengeType, correctAnswer string) (domain.Duel, error) {
	if creatorID == "" {
		return domain.Duel{}, &domain.ValidationError{Field: "creator_id", Reason: "must not be empty"}
	}
	if stakeAmount <= 0 {
		return domain.Duel{}, &domain.ValidationError{Field: "stake_amount", Reason: "must be positive"}
	}
	if s.maxStake > 0 && stakeAmount > s.maxStake {
		return domain.Duel{}, &domain.ValidationError{Field: "stake_amount", Reason: "exceeds maximum stake"}
	}
	if _, err := engine.DuelPayout(stakeAmount); err != nil {
		return domain.Duel{}, err
	}
	if !typ.Valid() {
		return domain.Duel{}, &domain.ValidationError{Field: "challenge_type", Reason: "unknown challenge type"}
	}
	if typ == domain.ChallengePrediction && correctAnswer == "" {
		return domain.Duel{}, &domain.ValidationError{Field: "correct_answer", Reason: "required for prediction duels"}
	}

	d := domain.Duel{
		ID:            uuid.New().String(),
		CreatorID:     creatorID,
		StakeAmount:   stakeAmount,
		Status:        domain.DuelStatusOpen,
		ChallengeType: typ,
		CorrectAnswer: correctAnswer,
	}

	if err := s.duels.Create(ctx, d); err != nil {
		return domain.Duel{}, fmt.Errorf("duel_service: create duel: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "duel_created", map[string]any{
		"duel_id":        d.ID,
		"creator_id":     creatorID,
		"stake_amount":   stakeAmount,
		"challenge_type": string(typ),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "duel_service: audit log failed",
			slog.String("duel_id", d.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelDuels, "duel_created", map[string]string{
		"duel_id":      d.ID,
		"creator_id":   creatorID,
		"stake_amount": strconv.FormatInt(stakeAmount, 10),
	})

	s.logger.InfoContext(ctx, "duel_service: duel created",
		slog.String("duel_id", d.ID),
		slog.String("creator_id", creatorID),
		slog.Int64("stake_amount", stakeAmount),
	)

	return s.duels.GetByID(ctx, d.ID)
}

// Join accepts an open duel. The creator cannot join their own duel, and the
// store's compare-and-set guarantees only one opponent ever takes the slot.
func (s *DuelService) Join(ctx context.Context, id, opponentID string) error {
	if opponentID == "" {
		return &domain.ValidationError{Field: "opponent_id", Reason: "must not be empty"}
	}

	d, err := s.duels.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("duel_service: join duel %q: %w", id, err)
	}
	if opponentID == d.CreatorID {
		return &domain.ValidationError{Field: "opponent_id", Reason: "creator cannot join own duel"}
	}

	if err := s.duels.Join(ctx, id, opponentID); err != nil {
		return fmt.Errorf("duel_service: join duel %q: %w", id, err)
	}

	emit(ctx, s.bus, s.logger, ChannelDuels, "duel_joined", map[string]string{
		"duel_id":     id,
		"opponent_id": opponentID,
	})

	s.logger.InfoContext(ctx, "duel_service: duel joined",
		slog.String("duel_id", id),
		slog.String("opponent_id", opponentID),
	)
	return nil
}

// SubmitAnswer records a participant's answer on an active duel. When both
// answers are present the duel completes immediately.
func (s *DuelService) SubmitAnswer(ctx context.Context, id, userID, value string, score int64) error {
	d, err := s.duels.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("duel_service: submit answer %q: %w", id, err)
	}
	if !d.Participant(userID) {
		return domain.ErrNotFound
	}

	answer := domain.Answer{
		Value:       value,
		Score:       score,
		SubmittedAt: time.Now().UTC(),
	}

	creator := userID == d.CreatorID
	if err := s.duels.SetAnswer(ctx, id, creator, answer); err != nil {
		return fmt.Errorf("duel_service: submit answer %q: %w", id, err)
	}

	emit(ctx, s.bus, s.logger, ChannelDuels, "duel_answer_submitted", map[string]string{
		"duel_id": id,
		"user_id": userID,
	})

	// Reload to see whether the other side has already answered.
	d, err = s.duels.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("duel_service: reload duel %q: %w", id, err)
	}
	if d.CreatorAnswer == nil || d.OpponentAnswer == nil {
		return nil
	}

	return s.complete(ctx, d)
}

// complete computes the verdict and commits the active→completed transition.
// Of two racing callers exactly one wins the compare-and-set; the loser's
// *StateError is swallowed because the duel is already settled identically.
func (s *DuelService) complete(ctx context.Context, d domain.Duel) error {
	verdict, err := engine.ResolveDuel(d.ChallengeType, d.CorrectAnswer, *d.CreatorAnswer, *d.OpponentAnswer)
	if err != nil {
		return fmt.Errorf("duel_service: resolve duel %q: %w", d.ID, err)
	}

	var winnerID string
	switch verdict.Winner {
	case engine.SideCreator:
		winnerID = d.CreatorID
	case engine.SideOpponent:
		winnerID = d.OpponentID
	}

	if err := s.duels.Complete(ctx, d.ID, winnerID, verdict.Draw); err != nil {
		var stateErr *domain.StateError
		if errors.As(err, &stateErr) && stateErr.Current == string(domain.DuelStatusCompleted) {
			return nil
		}
		return fmt.Errorf("duel_service: complete duel %q: %w", d.ID, err)
	}

	if auditErr := s.audit.Log(ctx, "duel_completed", map[string]any{
		"duel_id":   d.ID,
		"winner_id": winnerID,
		"draw":      verdict.Draw,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "duel_service: audit log failed",
			slog.String("duel_id", d.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelDuels, "duel_completed", map[string]string{
		"duel_id":   d.ID,
		"winner_id": winnerID,
		"draw":      strconv.FormatBool(verdict.Draw),
	})

	s.logger.InfoContext(ctx, "duel_service: duel completed",
		slog.String("duel_id", d.ID),
		slog.String("winner_id", winnerID),
		slog.Bool("draw", verdict.Draw),
	)
	return nil
}

// Cancel voids an open duel. Only the creator may cancel, and only while no
// opponent has joined; the stake refund flows through the claim path.
func (s *DuelService) Cancel(ctx context.Context, id, userID string) error {
	d, err := s.duels.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("duel_service: cancel duel %q: %w", id, err)
	}
	if userID != d.CreatorID {
		return domain.ErrNotFound
	}

	if err := s.duels.Cancel(ctx, id); err != nil {
		return fmt.Errorf("duel_service: cancel duel %q: %w", id, err)
	}

	if auditErr := s.audit.Log(ctx, "duel_cancelled", map[string]any{
		"duel_id": id,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "duel_service: audit log failed",
			slog.String("duel_id", id),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelDuels, "duel_cancelled", map[string]string{
		"duel_id": id,
	})

	s.logger.InfoContext(ctx, "duel_service: duel cancelled",
		slog.String("duel_id", id),
	)
	return nil
}

// Get retrieves a duel by ID.
func (s *DuelService) Get(ctx context.Context, id string) (domain.Duel, error) {
	d, err := s.duels.GetByID(ctx, id)
	if err != nil {
		return domain.Duel{}, fmt.Errorf("duel_service: get duel %q: %w", id, err)
	}
	return d, nil
}

// ListByStatus returns duels in the given status with pagination.
func (s *DuelService) ListByStatus(ctx context.Context, status domain.DuelStatus, opts domain.ListOpts) ([]domain.Duel, error) {
	duels, err := s.duels.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("duel_service: list by status %q: %w", status, err)
	}
	return duels, nil
}
