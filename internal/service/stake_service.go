package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

// defaultStakeRateLimit caps how many stakes a single user may place per
// window, which keeps a misbehaving client from hammering the market row
// lock.
const (
	defaultStakeRateLimit = 5
	stakeRateWindow       = time.Second
)

// StakeService handles stake placement and reads. The pool increment and the
// stake insert are a single store transaction; this layer adds validation,
// rate limiting, and event fan-out.
type StakeService struct {
	stakes    domain.StakeStore
	cache     domain.MarketCache
	limiter   domain.RateLimiter
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
	rateLimit int
	maxStake  int64 // zero means uncapped
}

// NewStakeService creates a StakeService with all required dependencies.
func NewStakeService(
	stakes domain.StakeStore,
	cache domain.MarketCache,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *StakeService {
	return &StakeService{
		stakes:    stakes,
		cache:     cache,
		limiter:   limiter,
		bus:       bus,
		audit:     audit,
		logger:    logger,
		rateLimit: defaultStakeRateLimit,
	}
}

// WithLimits overrides the per-user rate limit and the single-stake cap.
// Non-positive values leave the corresponding default in place.
func (s *StakeService) WithLimits(rateLimit int, maxStake int64) *StakeService {
	if rateLimit > 0 {
		s.rateLimit = rateLimit
	}
	if maxStake > 0 {
		s.maxStake = maxStake
	}
	return s
}

// Place records a stake on an open market. Amounts are positive integer
// minor units. A user gets exactly one stake per market; a second attempt
// returns *DuplicateStakeError and leaves the pools untouched.
func (s *StakeService) Place(ctx context.Context, marketID, userID string, outcome domain.Outcome, amount int64) (domain.Stake, error) {
	if marketID == "" {
		return domain.Stake{}, &domain.ValidationError{Field: "market_id", Reason: "must not be empty"}
	}
	if userID == "" {
		return domain.Stake{}, &domain.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if !outcome.Valid() {
		return domain.Stake{}, &domain.ValidationError{Field: "outcome", Reason: "must be home, away or draw"}
	}
	if amount <= 0 {
		return domain.Stake{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if s.maxStake > 0 && amount > s.maxStake {
		return domain.Stake{}, &domain.ValidationError{Field: "amount", Reason: "exceeds maximum stake"}
	}

	allowed, err := s.limiter.Allow(ctx, "stakes:"+userID, s.rateLimit, stakeRateWindow)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Stake{}, domain.ErrRateLimited
	}

	stake := domain.Stake{
		MarketID: marketID,
		UserID:   userID,
		Outcome:  outcome,
		Amount:   amount,
		PlacedAt: time.Now().UTC(),
	}

	if err := s.stakes.Place(ctx, stake); err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: place stake: %w", err)
	}

	// Pool totals changed; drop the cached snapshot.
	if cacheErr := s.cache.Invalidate(ctx, marketID); cacheErr != nil {
		s.logger.WarnContext(ctx, "stake_service: cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "stake_placed", map[string]any{
		"market_id": marketID,
		"user_id":   userID,
		"outcome":   string(outcome),
		"amount":    amount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "stake_service: audit log failed",
			slog.String("market_id", marketID),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelMarkets, "stake_placed", map[string]string{
		"market_id": marketID,
		"user_id":   userID,
		"outcome":   string(outcome),
		"amount":    strconv.FormatInt(amount, 10),
	})

	s.logger.InfoContext(ctx, "stake_service: stake placed",
		slog.String("market_id", marketID),
		slog.String("user_id", userID),
		slog.String("outcome", string(outcome)),
		slog.Int64("amount", amount),
	)

	return stake, nil
}

// Get retrieves one user's stake on a market.
func (s *StakeService) Get(ctx context.Context, marketID, userID string) (domain.Stake, error) {
	stake, err := s.stakes.GetByMarketUser(ctx, marketID, userID)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: get stake %q/%q: %w", marketID, userID, err)
	}
	return stake, nil
}

// ListByMarket returns every stake on a market.
func (s *StakeService) ListByMarket(ctx context.Context, marketID string) ([]domain.Stake, error) {
	stakes, err := s.stakes.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("stake_service: list stakes for %q: %w", marketID, err)
	}
	return stakes, nil
}
