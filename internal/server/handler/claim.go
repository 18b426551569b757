package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/fanclash/settlement/internal/domain"
)

// ClaimService defines the claim operations the handler exposes.
type ClaimService interface {
	ClaimStake(ctx context.Context, marketID, userID string) (domain.Transfer, error)
	ClaimDuel(ctx context.Context, duelID, userID string) (domain.Transfer, error)
}

// AuditService exposes the audit trail.
type AuditService interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ClaimHandler serves claim and audit HTTP endpoints.
type ClaimHandler struct {
	claims  ClaimService
	audit   AuditService
	exports domain.BlobReader // nil when export storage is not configured
	logger  *slog.Logger
}

// NewClaimHandler creates a ClaimHandler with the given services and logger.
// exports may be nil; the export endpoints then report storage as
// unavailable.
func NewClaimHandler(claims ClaimService, audit AuditService, exports domain.BlobReader, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{
		claims:  claims,
		audit:   audit,
		exports: exports,
		logger:  logger,
	}
}

// claimRequest is the body for both claim endpoints.
type claimRequest struct {
	UserID string `json:"user_id"`
}

// ClaimStake claims a payout or refund on a finished market.
// POST /api/markets/{id}/claims
func (h *ClaimHandler) ClaimStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	transfer, err := h.claims.ClaimStake(r.Context(), id, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: stake claim accepted",
		slog.String("market_id", id),
		slog.String("user_id", req.UserID),
		slog.String("transfer_id", transfer.ID),
	)
	writeJSON(w, http.StatusCreated, transfer)
}

// ClaimDuel claims a payout or refund on a finished duel.
// POST /api/duels/{id}/claims
func (h *ClaimHandler) ClaimDuel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	transfer, err := h.claims.ClaimDuel(r.Context(), id, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: duel claim accepted",
		slog.String("duel_id", id),
		slog.String("user_id", req.UserID),
		slog.String("transfer_id", transfer.ID),
	)
	writeJSON(w, http.StatusCreated, transfer)
}

// ListAudit returns the settlement audit trail, newest first.
// GET /api/audit
func (h *ClaimHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// ListExports lists archived audit export objects in object storage.
// GET /api/audit/exports
func (h *ClaimHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "export storage not configured")
		return
	}

	infos, err := h.exports.List(r.Context(), "archive/")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list exports failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"exports": infos})
}

// GetExport streams one archived export object back to the caller.
// GET /api/audit/exports/{path...}
func (h *ClaimHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "export storage not configured")
		return
	}

	path := pathParam(r, "path")
	body, err := h.exports.Get(r.Context(), path)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: export stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
