package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/engine"
)

const (
	// settlerLockKey serializes settlement passes across instances. Only one
	// settler writes market transitions at a time.
	settlerLockKey = "settler"
	settlerLockTTL = 2 * time.Minute

	lockBatchSize    = 100
	resolveBatchSize = 100

	// resolveBackoffBase grows per consecutive failure on a market, capped at
	// resolveBackoffMax. Markets whose authority has nothing yet stay locked
	// and are skipped until their backoff elapses.
	resolveBackoffBase = 30 * time.Second
	resolveBackoffMax  = 15 * time.Minute
)

// defaultTreasuryAccount receives flooring remainders under the treasury
// policy unless WithTreasuryAccount overrides it.
const defaultTreasuryAccount = "treasury"

// Settler drives the automatic parts of the market lifecycle: locking open
// markets whose lock time has passed, and resolving locked markets once the
// score authority publishes a final result. Each pass runs under a
// distributed lock; transitions are compare-and-set, so even a lost lock
// cannot settle a market twice.
type Settler struct {
	markets domain.MarketStore
	stakes  domain.StakeStore
	outbox  domain.TransferOutbox
	results domain.ResultSource
	locks   domain.LockManager
	cache   domain.MarketCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	policy  engine.RemainderPolicy
	logger  *slog.Logger

	treasuryAccount string

	mu       sync.Mutex
	failures map[string]resolveFailure
}

type resolveFailure struct {
	attempts  int
	nextRetry time.Time
}

// NewSettler creates a Settler with all required dependencies.
func NewSettler(
	markets domain.MarketStore,
	stakes domain.StakeStore,
	outbox domain.TransferOutbox,
	results domain.ResultSource,
	locks domain.LockManager,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	policy engine.RemainderPolicy,
	logger *slog.Logger,
) *Settler {
	if !policy.Valid() {
		policy = engine.RemainderTreasury
	}
	return &Settler{
		markets:         markets,
		stakes:          stakes,
		outbox:          outbox,
		results:         results,
		locks:           locks,
		cache:           cache,
		bus:             bus,
		audit:           audit,
		policy:          policy,
		logger:          logger,
		treasuryAccount: defaultTreasuryAccount,
		failures:        make(map[string]resolveFailure),
	}
}

// WithTreasuryAccount overrides the account that receives flooring
// remainders. Empty leaves the default.
func (s *Settler) WithTreasuryAccount(account string) *Settler {
	if account != "" {
		s.treasuryAccount = account
	}
	return s
}

// Run executes a single settlement pass: lock due markets, then attempt to
// resolve every locked market. Another instance holding the settler lock is
// not an error; this pass simply yields.
func (s *Settler) Run(ctx context.Context) error {
	unlock, err := s.locks.Acquire(ctx, settlerLockKey, settlerLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil
		}
		return fmt.Errorf("settler: acquire lock: %w", err)
	}
	defer unlock()

	if err := s.lockDueMarkets(ctx); err != nil {
		return err
	}
	return s.resolveLockedMarkets(ctx)
}

// RunLoop runs settlement passes on a repeating interval until the context
// is cancelled.
func (s *Settler) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := s.Run(ctx); err != nil {
		s.logger.Error("settler: pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settler: loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("settler: pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ResolveManual resolves one locked market with an operator-supplied final
// score, for events the score authority does not cover or resolves too
// slowly. It shares the compare-and-set path with the automatic pass, so it
// is idempotent and safe to race with the settler loop.
func (s *Settler) ResolveManual(ctx context.Context, id string, score domain.FinalScore) error {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("settler: resolve market %q: %w", id, err)
	}
	if err := s.resolveMarket(ctx, m, score); err != nil {
		return err
	}
	s.clearFailure(id)
	return nil
}

// lockDueMarkets transitions every open market past its lock time to locked.
func (s *Settler) lockDueMarkets(ctx context.Context) error {
	due, err := s.markets.ListLockable(ctx, time.Now().UTC(), lockBatchSize)
	if err != nil {
		return fmt.Errorf("settler: list lockable: %w", err)
	}

	for _, m := range due {
		err := s.markets.UpdateStatus(ctx, m.ID, domain.MarketStatusOpen, domain.MarketStatusLocked)
		if err != nil {
			// Lost a race with a manual lock or cancel; nothing to do.
			var stateErr *domain.StateError
			if errors.As(err, &stateErr) {
				continue
			}
			return fmt.Errorf("settler: lock market %q: %w", m.ID, err)
		}

		if cacheErr := s.cache.Invalidate(ctx, m.ID); cacheErr != nil {
			s.logger.WarnContext(ctx, "settler: cache invalidate failed",
				slog.String("market_id", m.ID),
				slog.String("error", cacheErr.Error()),
			)
		}
		if auditErr := s.audit.Log(ctx, "market_locked", map[string]any{
			"market_id": m.ID,
			"auto":      true,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "settler: audit log failed",
				slog.String("market_id", m.ID),
				slog.String("error", auditErr.Error()),
			)
		}
		emit(ctx, s.bus, s.logger, ChannelMarkets, "market_locked", map[string]string{
			"market_id": m.ID,
		})

		s.logger.InfoContext(ctx, "settler: market locked",
			slog.String("market_id", m.ID),
			slog.String("event_ref", m.EventRef),
		)
	}
	return nil
}

// resolveLockedMarkets asks the score authority for a final result for every
// locked market not currently in backoff, and resolves those that have one.
func (s *Settler) resolveLockedMarkets(ctx context.Context) error {
	locked, err := s.markets.ListByStatus(ctx, domain.MarketStatusLocked, domain.ListOpts{Limit: resolveBatchSize})
	if err != nil {
		return fmt.Errorf("settler: list locked: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range locked {
		if !s.shouldAttempt(m.ID, now) {
			continue
		}

		score, err := s.results.Final(ctx, m.EventRef)
		if err != nil {
			if errors.Is(err, domain.ErrResultUnavailable) {
				s.recordFailure(m.ID, now)
				continue
			}
			s.recordFailure(m.ID, now)
			s.logger.WarnContext(ctx, "settler: result fetch failed",
				slog.String("market_id", m.ID),
				slog.String("event_ref", m.EventRef),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := s.resolveMarket(ctx, m, score); err != nil {
			s.logger.ErrorContext(ctx, "settler: resolve failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.clearFailure(m.ID)
	}
	return nil
}

// resolveMarket commits the result and, under the treasury policy, enqueues
// the remainder transfer. A concurrent resolution losing the compare-and-set
// is treated as success.
func (s *Settler) resolveMarket(ctx context.Context, m domain.Market, score domain.FinalScore) error {
	result := engine.OutcomeFromScore(score)

	if err := s.markets.Resolve(ctx, m.ID, result); err != nil {
		var stateErr *domain.StateError
		if errors.As(err, &stateErr) && stateErr.Current == string(domain.MarketStatusResolved) {
			return nil
		}
		return fmt.Errorf("settler: resolve market %q: %w", m.ID, err)
	}

	if cacheErr := s.cache.Invalidate(ctx, m.ID); cacheErr != nil {
		s.logger.WarnContext(ctx, "settler: cache invalidate failed",
			slog.String("market_id", m.ID),
			slog.String("error", cacheErr.Error()),
		)
	}

	if s.policy == engine.RemainderTreasury {
		if err := s.enqueueRemainder(ctx, m.ID, result); err != nil {
			// The market is resolved; a lost remainder is logged, not fatal.
			s.logger.ErrorContext(ctx, "settler: remainder enqueue failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if auditErr := s.audit.Log(ctx, "market_resolved", map[string]any{
		"market_id":  m.ID,
		"event_ref":  m.EventRef,
		"result":     string(result),
		"home_score": score.Home,
		"away_score": score.Away,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "settler: audit log failed",
			slog.String("market_id", m.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelMarkets, "market_resolved", map[string]string{
		"market_id": m.ID,
		"result":    string(result),
		"home":      strconv.Itoa(score.Home),
		"away":      strconv.Itoa(score.Away),
	})

	s.logger.InfoContext(ctx, "settler: market resolved",
		slog.String("market_id", m.ID),
		slog.String("event_ref", m.EventRef),
		slog.String("result", string(result)),
	)
	return nil
}

// enqueueRemainder computes the undistributed flooring remainder and queues
// it for the treasury account. When nobody staked on the winning outcome the
// whole pool is the remainder.
func (s *Settler) enqueueRemainder(ctx context.Context, marketID string, result domain.Outcome) error {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return err
	}
	if m.TotalStaked == 0 {
		return nil
	}

	var remainder int64
	if m.Pool(result) == 0 {
		remainder = m.TotalStaked
	} else {
		all, err := s.stakes.ListByMarket(ctx, marketID)
		if err != nil {
			return err
		}
		winners := all[:0]
		for _, st := range all {
			if st.Outcome == result {
				winners = append(winners, st)
			}
		}
		remainder, err = engine.PoolRemainder(winners, m.Pool(result), m.TotalStaked)
		if err != nil {
			return err
		}
	}
	if remainder == 0 {
		return nil
	}

	return s.outbox.Enqueue(ctx, domain.Transfer{
		ID:       uuid.New().String(),
		Kind:     domain.TransferKindRemainder,
		EntityID: marketID,
		Account:  s.treasuryAccount,
		Amount:   remainder,
		Status:   domain.TransferStatusPending,
	})
}

func (s *Settler) shouldAttempt(marketID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[marketID]
	return !ok || !now.Before(f.nextRetry)
}

func (s *Settler) recordFailure(marketID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failures[marketID]
	f.attempts++
	backoff := resolveBackoffBase * time.Duration(f.attempts)
	if backoff > resolveBackoffMax {
		backoff = resolveBackoffMax
	}
	f.nextRetry = now.Add(backoff)
	s.failures[marketID] = f
}

func (s *Settler) clearFailure(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, marketID)
}
