package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fanclash/settlement/internal/domain"
)

// MarketService handles the pooled market lifecycle: creation, the manual
// lock and cancel transitions, and cached reads. Resolution belongs to the
// Settler; cancellation refunds are paid out through the ClaimService.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// Create opens a new market for an external event. The lock time must not be
// after the event time; stakes placed at or after the lock time are rejected
// elsewhere, so a lock time in the past produces a market nobody can stake on.
func (s *MarketService) Create(ctx context.Context, eventRef string, lockTime, eventTime time.Time) (domain.Market, error) {
	if eventRef == "" {
		return domain.Market{}, &domain.ValidationError{Field: "event_ref", Reason: "must not be empty"}
	}
	if lockTime.IsZero() || eventTime.IsZero() {
		return domain.Market{}, &domain.ValidationError{Field: "lock_time", Reason: "lock and event times are required"}
	}
	if lockTime.After(eventTime) {
		return domain.Market{}, &domain.ValidationError{Field: "lock_time", Reason: "must not be after event time"}
	}

	m := domain.Market{
		ID:        uuid.New().String(),
		EventRef:  eventRef,
		LockTime:  lockTime.UTC(),
		EventTime: eventTime.UTC(),
		Status:    domain.MarketStatusOpen,
		Result:    domain.OutcomeNone,
	}

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "market_created", map[string]any{
		"market_id": m.ID,
		"event_ref": m.EventRef,
		"lock_time": m.LockTime,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("market_id", m.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelMarkets, "market_created", map[string]string{
		"market_id": m.ID,
		"event_ref": m.EventRef,
	})

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("event_ref", m.EventRef),
	)

	return s.markets.GetByID(ctx, m.ID)
}

// Get retrieves a market, serving from the cache when possible.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "market_service: cache read failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %q: %w", id, err)
	}

	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache write failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// ListByStatus returns markets in the given status with pagination.
func (s *MarketService) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by status %q: %w", status, err)
	}
	return markets, nil
}

// Lock moves an open market to locked ahead of its scheduled lock time. The
// settler performs the same transition automatically once the lock time
// passes; a concurrent manual and automatic lock is harmless because the
// store transition is a compare-and-set.
func (s *MarketService) Lock(ctx context.Context, id string) error {
	if err := s.markets.UpdateStatus(ctx, id, domain.MarketStatusOpen, domain.MarketStatusLocked); err != nil {
		return fmt.Errorf("market_service: lock market %q: %w", id, err)
	}
	s.afterTransition(ctx, id, "market_locked")
	return nil
}

// Cancel voids a market. Allowed from open and from locked, covering event
// cancellations discovered both before and after the lock. Every stake then
// becomes refundable at exactly its original amount through the claim path.
func (s *MarketService) Cancel(ctx context.Context, id string) error {
	err := s.markets.UpdateStatus(ctx, id, domain.MarketStatusOpen, domain.MarketStatusCancelled)
	if err != nil {
		var stateErr *domain.StateError
		if errors.As(err, &stateErr) && stateErr.Current == string(domain.MarketStatusLocked) {
			err = s.markets.UpdateStatus(ctx, id, domain.MarketStatusLocked, domain.MarketStatusCancelled)
		}
	}
	if err != nil {
		return fmt.Errorf("market_service: cancel market %q: %w", id, err)
	}
	s.afterTransition(ctx, id, "market_cancelled")
	return nil
}

// afterTransition invalidates the cache and records the event after a status
// change has committed.
func (s *MarketService) afterTransition(ctx context.Context, id, event string) {
	if cacheErr := s.cache.Invalidate(ctx, id); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, event, map[string]any{
		"market_id": id,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("market_id", id),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelMarkets, event, map[string]string{
		"market_id": id,
	})

	s.logger.InfoContext(ctx, "market_service: "+event,
		slog.String("market_id", id),
	)
}
