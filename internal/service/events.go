package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fanclash/settlement/internal/domain"
)

// Event channels on the signal bus. Every channel also feeds the durable
// stream so feed consumers can replay what pub/sub subscribers may miss.
const (
	ChannelMarkets   = "markets"
	ChannelDuels     = "duels"
	ChannelClaims    = "claims"
	ChannelTransfers = "transfers"

	// EventStream is the durable, ordered feed of every settlement event.
	EventStream = "settlement:events"
)

// emit publishes an event payload on a pub/sub channel and appends it to the
// durable event stream. Delivery failures are logged and swallowed: events
// are advisory, the database is the source of truth.
func emit(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel, event string, fields map[string]string) {
	payload := make(map[string]string, len(fields)+1)
	payload["event"] = event
	for k, v := range fields {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.WarnContext(ctx, "events: marshal failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	if pubErr := bus.Publish(ctx, channel, data); pubErr != nil {
		logger.WarnContext(ctx, "events: publish failed",
			slog.String("channel", channel),
			slog.String("event", event),
			slog.String("error", pubErr.Error()),
		)
	}
	if strErr := bus.StreamAppend(ctx, EventStream, data); strErr != nil {
		logger.WarnContext(ctx, "events: stream append failed",
			slog.String("event", event),
			slog.String("error", strErr.Error()),
		)
	}
}
