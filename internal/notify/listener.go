// Package notify forwards settlement events to operator channels (Telegram,
// Discord). It listens on the signal bus, so alerts work in every deployment
// mode without touching the money paths.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fanclash/settlement/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Listener subscribes to the settlement event channels and forwards selected
// events to all registered senders. Only events whose name appears in the
// configured set are forwarded; an empty set forwards everything.
type Listener struct {
	bus      domain.SignalBus
	senders  []Sender
	channels []string
	events   map[string]bool
	logger   *slog.Logger
}

// NewListener creates a Listener that watches the given bus channels. Only
// events named in the events slice are forwarded; if events is empty, all
// events pass.
func NewListener(bus domain.SignalBus, senders []Sender, channels, events []string, logger *slog.Logger) *Listener {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e != "" {
			allowed[e] = true
		}
	}
	return &Listener{
		bus:      bus,
		senders:  senders,
		channels: channels,
		events:   allowed,
		logger:   logger.With(slog.String("component", "notify")),
	}
}

// Run subscribes to every configured channel and forwards matching events
// until the context is cancelled. A sender failure is logged, never fatal.
func (l *Listener) Run(ctx context.Context) error {
	if len(l.senders) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	merged := make(chan []byte, 64)
	for _, channel := range l.channels {
		ch, err := l.bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", channel, err)
		}
		go func(in <-chan []byte) {
			for {
				select {
				case <-ctx.Done():
					return
				case data, ok := <-in:
					if !ok {
						return
					}
					select {
					case merged <- data:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-merged:
			l.handle(ctx, data)
		}
	}
}

// handle parses one event payload and dispatches it when it passes the
// event filter.
func (l *Listener) handle(ctx context.Context, data []byte) {
	var payload map[string]string
	if err := json.Unmarshal(data, &payload); err != nil {
		l.logger.DebugContext(ctx, "unparseable event payload", slog.String("error", err.Error()))
		return
	}

	event := payload["event"]
	if event == "" {
		return
	}
	if len(l.events) > 0 && !l.events[event] {
		return
	}

	l.dispatch(ctx, "settlement: "+event, formatFields(payload))
}

// dispatch sends to every sender; one failing sender does not block the
// rest.
func (l *Listener) dispatch(ctx context.Context, title, message string) {
	for _, s := range l.senders {
		if err := s.Send(ctx, title, message); err != nil {
			l.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// formatFields renders the non-event payload fields as sorted key: value
// lines so messages are stable and easy to scan.
func formatFields(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, payload[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
