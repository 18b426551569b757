package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/fanclash/settlement/internal/domain"
	"github.com/fanclash/settlement/internal/engine"
)

// ClaimService pays winners and refunds stakers on voided markets and duels.
// Every payout is written through the transfer outbox in the same database
// transaction that flips the claimed flag, so a claim is either fully
// recorded or not recorded at all. The outbox dispatcher does the actual
// money movement asynchronously.
type ClaimService struct {
	markets domain.MarketStore
	stakes  domain.StakeStore
	duels   domain.DuelStore
	bus     domain.SignalBus
	audit   domain.AuditStore
	policy  engine.RemainderPolicy
	logger  *slog.Logger
}

// NewClaimService creates a ClaimService with all required dependencies.
func NewClaimService(
	markets domain.MarketStore,
	stakes domain.StakeStore,
	duels domain.DuelStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	policy engine.RemainderPolicy,
	logger *slog.Logger,
) *ClaimService {
	if !policy.Valid() {
		policy = engine.RemainderTreasury
	}
	return &ClaimService{
		markets: markets,
		stakes:  stakes,
		duels:   duels,
		bus:     bus,
		audit:   audit,
		policy:  policy,
		logger:  logger,
	}
}

// ClaimStake settles one user's stake on a finished market. On a resolved
// market a winning stake is paid floor(stake × total / winning pool); a
// losing stake is not claimable. On a cancelled market every stake is
// refunded at exactly its original amount. A second claim for the same stake
// returns *AlreadyClaimedError and moves no value.
func (s *ClaimService) ClaimStake(ctx context.Context, marketID, userID string) (domain.Transfer, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("claim_service: get market %q: %w", marketID, err)
	}

	stake, err := s.stakes.GetByMarketUser(ctx, marketID, userID)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("claim_service: get stake %q/%q: %w", marketID, userID, err)
	}

	var transfer domain.Transfer
	switch m.Status {
	case domain.MarketStatusResolved:
		transfer, err = s.resolvedStakeTransfer(ctx, m, stake)
		if err != nil {
			return domain.Transfer{}, err
		}
	case domain.MarketStatusCancelled:
		transfer = domain.Transfer{
			ID:       uuid.New().String(),
			Kind:     domain.TransferKindRefund,
			EntityID: marketID,
			Account:  userID,
			Amount:   stake.Amount,
			Status:   domain.TransferStatusPending,
		}
	default:
		return domain.Transfer{}, &domain.StateError{
			Entity:    "market",
			ID:        marketID,
			Current:   string(m.Status),
			Requested: "claim",
		}
	}

	if err := s.stakes.ClaimWithTransfer(ctx, marketID, userID, transfer); err != nil {
		return domain.Transfer{}, fmt.Errorf("claim_service: claim stake %q/%q: %w", marketID, userID, err)
	}

	s.recordClaim(ctx, transfer, map[string]any{
		"market_id": marketID,
		"user_id":   userID,
		"kind":      string(transfer.Kind),
		"amount":    transfer.Amount,
	})

	return transfer, nil
}

// resolvedStakeTransfer builds the payout transfer for a winning stake on a
// resolved market. Under the last-claimant policy the final unclaimed winner
// also collects the flooring remainder.
func (s *ClaimService) resolvedStakeTransfer(ctx context.Context, m domain.Market, stake domain.Stake) (domain.Transfer, error) {
	if stake.Outcome != m.Result {
		return domain.Transfer{}, &domain.ValidationError{
			Field:  "outcome",
			Reason: fmt.Sprintf("stake on %s did not win; market resolved %s", stake.Outcome, m.Result),
		}
	}

	payout, err := engine.PoolPayout(stake.Amount, m.Pool(m.Result), m.TotalStaked)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("claim_service: payout for %q/%q: %w", m.ID, stake.UserID, err)
	}

	if s.policy == engine.RemainderLastClaimant {
		unclaimed, err := s.stakes.CountUnclaimed(ctx, m.ID, m.Result)
		if err != nil {
			return domain.Transfer{}, fmt.Errorf("claim_service: count unclaimed for %q: %w", m.ID, err)
		}
		if unclaimed == 1 {
			winners, err := s.stakes.ListByMarket(ctx, m.ID)
			if err != nil {
				return domain.Transfer{}, fmt.Errorf("claim_service: list stakes for %q: %w", m.ID, err)
			}
			winning := winners[:0]
			for _, w := range winners {
				if w.Outcome == m.Result {
					winning = append(winning, w)
				}
			}
			remainder, err := engine.PoolRemainder(winning, m.Pool(m.Result), m.TotalStaked)
			if err != nil {
				return domain.Transfer{}, fmt.Errorf("claim_service: remainder for %q: %w", m.ID, err)
			}
			payout += remainder
		}
	}

	return domain.Transfer{
		ID:       uuid.New().String(),
		Kind:     domain.TransferKindPayout,
		EntityID: m.ID,
		Account:  stake.UserID,
		Amount:   payout,
		Status:   domain.TransferStatusPending,
	}, nil
}

// ClaimDuel settles one participant's side of a finished duel. The winner of
// a completed duel collects both stakes; on a draw each side is refunded its
// own stake; on a cancelled duel the creator recovers the stake. Losers have
// nothing to claim.
func (s *ClaimService) ClaimDuel(ctx context.Context, duelID, userID string) (domain.Transfer, error) {
	d, err := s.duels.GetByID(ctx, duelID)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("claim_service: get duel %q: %w", duelID, err)
	}
	if !d.Participant(userID) {
		return domain.Transfer{}, domain.ErrNotFound
	}

	var amount int64
	var kind domain.TransferKind
	switch d.Status {
	case domain.DuelStatusCompleted:
		switch {
		case d.Draw:
			amount = d.StakeAmount
			kind = domain.TransferKindRefund
		case d.WinnerID == userID:
			amount, err = engine.DuelPayout(d.StakeAmount)
			if err != nil {
				return domain.Transfer{}, fmt.Errorf("claim_service: duel payout %q: %w", duelID, err)
			}
			kind = domain.TransferKindPayout
		default:
			return domain.Transfer{}, &domain.ValidationError{
				Field:  "user_id",
				Reason: "participant did not win",
			}
		}
	case domain.DuelStatusCancelled:
		if userID != d.CreatorID {
			return domain.Transfer{}, &domain.ValidationError{
				Field:  "user_id",
				Reason: "only the creator staked on a cancelled duel",
			}
		}
		amount = d.StakeAmount
		kind = domain.TransferKindRefund
	default:
		return domain.Transfer{}, &domain.StateError{
			Entity:    "duel",
			ID:        duelID,
			Current:   string(d.Status),
			Requested: "claim",
		}
	}

	transfer := domain.Transfer{
		ID:       uuid.New().String(),
		Kind:     kind,
		EntityID: duelID,
		Account:  userID,
		Amount:   amount,
		Status:   domain.TransferStatusPending,
	}

	if err := s.duels.ClaimWithTransfer(ctx, duelID, userID, transfer); err != nil {
		return domain.Transfer{}, fmt.Errorf("claim_service: claim duel %q/%q: %w", duelID, userID, err)
	}

	s.recordClaim(ctx, transfer, map[string]any{
		"duel_id": duelID,
		"user_id": userID,
		"kind":    string(kind),
		"amount":  amount,
	})

	return transfer, nil
}

// recordClaim writes the audit entry and fans out the claim event once the
// claim transaction has committed.
func (s *ClaimService) recordClaim(ctx context.Context, t domain.Transfer, detail map[string]any) {
	if auditErr := s.audit.Log(ctx, "claim_recorded", detail); auditErr != nil {
		s.logger.WarnContext(ctx, "claim_service: audit log failed",
			slog.String("transfer_id", t.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	emit(ctx, s.bus, s.logger, ChannelClaims, "claim_recorded", map[string]string{
		"transfer_id": t.ID,
		"entity_id":   t.EntityID,
		"account":     t.Account,
		"kind":        string(t.Kind),
		"amount":      strconv.FormatInt(t.Amount, 10),
	})

	s.logger.InfoContext(ctx, "claim_service: claim recorded",
		slog.String("transfer_id", t.ID),
		slog.String("entity_id", t.EntityID),
		slog.String("account", t.Account),
		slog.String("kind", string(t.Kind)),
		slog.Int64("amount", t.Amount),
	)
}
