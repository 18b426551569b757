package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fanclash/settlement/internal/domain"
)

// DuelService defines the methods the duel handler requires from the service
// layer.
type DuelService interface {
	Create(ctx context.Context, creatorID string, stakeAmount int64, typ domain.ChallengeType, correctAnswer string) (domain.Duel, error)
	Get(ctx context.Context, id string) (domain.Duel, error)
	ListByStatus(ctx context.Context, status domain.DuelStatus, opts domain.ListOpts) ([]domain.Duel, error)
	Join(ctx context.Context, id, opponentID string) error
	SubmitAnswer(ctx context.Context, id, userID, value string, score int64) error
	Cancel(ctx context.Context, id, userID string) error
}

// DuelHandler serves duel HTTP endpoints.
type DuelHandler struct {
	duels  DuelService
	logger *slog.Logger
}

// NewDuelHandler creates a DuelHandler with the given service and logger.
func NewDuelHandler(duels DuelService, logger *slog.Logger) *DuelHandler {
	return &DuelHandler{
		duels:  duels,
		logger: logger,
	}
}

// createDuelRequest is the body for duel creation.
type createDuelRequest struct {
	CreatorID     string `json:"creator_id"`
	StakeAmount   int64  `json:"stake_amount"`
	ChallengeType string `json:"challenge_type"`
	CorrectAnswer string `json:"correct_answer"`
}

// CreateDuel opens a duel waiting for an opponent.
// POST /api/duels
func (h *DuelHandler) CreateDuel(w http.ResponseWriter, r *http.Request) {
	var req createDuelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	duel, err := h.duels.Create(r.Context(), req.CreatorID, req.StakeAmount,
		domain.ChallengeType(req.ChallengeType), req.CorrectAnswer)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create duel failed",
			slog.String("creator_id", req.CreatorID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, duel)
}

// ListDuels returns duels filtered by status (default open).
// GET /api/duels?status=open&limit=50&offset=0
func (h *DuelHandler) ListDuels(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	status := domain.DuelStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.DuelStatusOpen
	}

	duels, err := h.duels.ListByStatus(r.Context(), status, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"duels":  duels,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetDuel returns a single duel by its ID.
// GET /api/duels/{id}
func (h *DuelHandler) GetDuel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	duel, err := h.duels.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, duel)
}

// joinDuelRequest is the body for joining a duel.
type joinDuelRequest struct {
	OpponentID string `json:"opponent_id"`
}

// JoinDuel accepts an open duel as the opponent.
// POST /api/duels/{id}/join
func (h *DuelHandler) JoinDuel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req joinDuelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.duels.Join(r.Context(), id, req.OpponentID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.DuelStatusActive)})
}

// submitAnswerRequest is the body for answer submission.
type submitAnswerRequest struct {
	UserID string `json:"user_id"`
	Value  string `json:"value"`
	Score  int64  `json:"score"`
}

// SubmitAnswer records a participant's answer; the duel completes when both
// answers are in.
// POST /api/duels/{id}/answers
func (h *DuelHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req submitAnswerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.duels.SubmitAnswer(r.Context(), id, req.UserID, req.Value, req.Score); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// cancelDuelRequest is the body for duel cancellation.
type cancelDuelRequest struct {
	UserID string `json:"user_id"`
}

// CancelDuel voids an open duel; only the creator may cancel.
// POST /api/duels/{id}/cancel
func (h *DuelHandler) CancelDuel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req cancelDuelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.duels.Cancel(r.Context(), id, req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.DuelStatusCancelled)})
}
