package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, eventRef string, lockTime, eventTime time.Time) (domain.Market, error)
	Get(ctx context.Context, id string) (domain.Market, error)
	ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	Lock(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// MarketResolver resolves a locked market with an operator-supplied final
// score, for events the automatic settler cannot cover.
type MarketResolver interface {
	ResolveManual(ctx context.Context, id string, score domain.FinalScore) error
}

// StakeService defines the stake operations the market handler exposes.
type StakeService interface {
	Place(ctx context.Context, marketID, userID string, outcome domain.Outcome, amount int64) (domain.Stake, error)
	Get(ctx context.Context, marketID, userID string) (domain.Stake, error)
	ListByMarket(ctx context.Context, marketID string) ([]domain.Stake, error)
}

// MarketHandler serves market and stake HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	stakes   StakeService
	resolver MarketResolver
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, stakes StakeService, resolver MarketResolver, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		stakes:   stakes,
		resolver: resolver,
		logger:   logger,
	}
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	EventRef  string    `json:"event_ref"`
	LockTime  time.Time `json:"lock_time"`
	EventTime time.Time `json:"event_time"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.Create(r.Context(), req.EventRef, req.LockTime, req.EventTime)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("event_ref", req.EventRef),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets filtered by status (default open).
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	status := domain.MarketStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.MarketStatusOpen
	}

	markets, err := h.markets.ListByStatus(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// LockMarket locks an open market ahead of its scheduled lock time.
// POST /api/markets/{id}/lock
func (h *MarketHandler) LockMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.markets.Lock(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.MarketStatusLocked)})
}

// resolveMarketRequest carries the operator-supplied final score.
type resolveMarketRequest struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// ResolveMarket resolves a locked market with the final score in the body.
// Resolving an already-resolved market is a no-op success.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "manual resolution not configured")
		return
	}

	id := pathParam(r, "id")

	var req resolveMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Home < 0 || req.Away < 0 {
		writeError(w, http.StatusBadRequest, "scores must not be negative")
		return
	}

	score := domain.FinalScore{Home: req.Home, Away: req.Away}
	if err := h.resolver.ResolveManual(r.Context(), id, score); err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: market resolved manually",
		slog.String("market_id", id),
		slog.Int("home", req.Home),
		slog.Int("away", req.Away),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.MarketStatusResolved)})
}

// CancelMarket voids a market; stakes become refundable through claims.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.markets.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.MarketStatusCancelled)})
}

// placeStakeRequest is the body for stake placement.
type placeStakeRequest struct {
	UserID  string `json:"user_id"`
	Outcome string `json:"outcome"`
	Amount  int64  `json:"amount"`
}

// PlaceStake stakes an amount on one outcome of an open market.
// POST /api/markets/{id}/stakes
func (h *MarketHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req placeStakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stake, err := h.stakes.Place(r.Context(), id, req.UserID, domain.Outcome(req.Outcome), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, stake)
}

// ListStakes returns every stake on a market.
// GET /api/markets/{id}/stakes
func (h *MarketHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	stakes, err := h.stakes.ListByMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"stakes": stakes})
}

// GetStake returns one user's stake on a market.
// GET /api/markets/{id}/stakes/{user}
func (h *MarketHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	user := pathParam(r, "user")

	stake, err := h.stakes.Get(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stake)
}
