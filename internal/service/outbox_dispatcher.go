package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

const dispatchBatchSize = 50

// OutboxDispatcher drains the transfer outbox and pushes each transfer to
// the external value service. The transfer ID is the idempotency key, so a
// lapsed lease or a crash between the send and the mark cannot pay twice;
// the value service deduplicates the retry.
type OutboxDispatcher struct {
	outbox      domain.TransferOutbox
	transferrer domain.Transferrer
	bus         domain.SignalBus
	logger      *slog.Logger
}

// NewOutboxDispatcher creates an OutboxDispatcher with all required
// dependencies.
func NewOutboxDispatcher(
	outbox domain.TransferOutbox,
	transferrer domain.Transferrer,
	bus domain.SignalBus,
	logger *slog.Logger,
) *OutboxDispatcher {
	return &OutboxDispatcher{
		outbox:      outbox,
		transferrer: transferrer,
		bus:         bus,
		logger:      logger,
	}
}

// Run executes a single dispatch pass over one batch of due transfers.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	transfers, err := d.outbox.DequeuePending(ctx, dispatchBatchSize)
	if err != nil {
		return fmt.Errorf("dispatcher: dequeue: %w", err)
	}

	for _, t := range transfers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatcher: context cancelled: %w", err)
		}
		d.dispatch(ctx, t)
	}
	return nil
}

// RunLoop runs dispatch passes on a repeating interval until the context is
// cancelled.
func (d *OutboxDispatcher) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := d.Run(ctx); err != nil {
		d.logger.Error("dispatcher: pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher: loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.Run(ctx); err != nil {
				d.logger.Error("dispatcher: pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, t domain.Transfer) {
	if err := d.transferrer.Transfer(ctx, t.ID, t.Account, t.Amount); err != nil {
		d.logger.WarnContext(ctx, "dispatcher: transfer failed",
			slog.String("transfer_id", t.ID),
			slog.String("account", t.Account),
			slog.Int64("amount", t.Amount),
			slog.Int("attempts", t.Attempts+1),
			slog.String("error", err.Error()),
		)
		if markErr := d.outbox.MarkFailed(ctx, t.ID, err.Error()); markErr != nil {
			d.logger.ErrorContext(ctx, "dispatcher: mark failed errored",
				slog.String("transfer_id", t.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	if err := d.outbox.MarkSent(ctx, t.ID); err != nil {
		// The transfer went out but the mark did not land. The lease will
		// lapse and the row will be re-dispatched; the idempotency key makes
		// that retry a no-op at the value service.
		d.logger.ErrorContext(ctx, "dispatcher: mark sent errored",
			slog.String("transfer_id", t.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	emit(ctx, d.bus, d.logger, ChannelTransfers, "transfer_sent", map[string]string{
		"transfer_id": t.ID,
		"entity_id":   t.EntityID,
		"account":     t.Account,
		"kind":        string(t.Kind),
		"amount":      strconv.FormatInt(t.Amount, 10),
	})

	d.logger.InfoContext(ctx, "dispatcher: transfer sent",
		slog.String("transfer_id", t.ID),
		slog.String("account", t.Account),
		slog.String("kind", string(t.Kind)),
		slog.Int64("amount", t.Amount),
	)
}
