package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanclash/settlement/internal/domain"
)

type fakeBus struct {
	mu       sync.Mutex
	channels map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{channels: make(map[string]chan []byte)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch, ok := b.channels[channel]
	b.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.channels[channel] = ch
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordedSend struct {
	title   string
	message string
}

type fakeSender struct {
	mu    sync.Mutex
	sends []recordedSend
	err   error
	gotCh chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{gotCh: make(chan struct{}, 16)}
}

func (s *fakeSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	s.sends = append(s.sends, recordedSend{title: title, message: message})
	s.mu.Unlock()
	s.gotCh <- struct{}{}
	return s.err
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) recorded() []recordedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedSend, len(s.sends))
	copy(out, s.sends)
	return out
}

func (s *fakeSender) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-s.gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListenerForwardsAllowedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	sender := newFakeSender()
	l := NewListener(bus, []Sender{sender}, []string{"markets"}, []string{"market_resolved"}, testLogger())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Give the subscriber goroutines a moment to attach.
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		_, ok := bus.channels["markets"]
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "markets", []byte(`{"event":"market_resolved","market_id":"m1","outcome":"home"}`)))
	sender.waitForSend(t)

	sends := sender.recorded()
	require.Len(t, sends, 1)
	assert.Equal(t, "settlement: market_resolved", sends[0].title)
	assert.Equal(t, "market_id: m1\noutcome: home", sends[0].message)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestListenerFiltersDisallowedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	sender := newFakeSender()
	l := NewListener(bus, []Sender{sender}, []string{"markets"}, []string{"market_cancelled"}, testLogger())

	go func() { _ = l.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		_, ok := bus.channels["markets"]
		return ok
	}, time.Second, 5*time.Millisecond)

	// Filtered event, then an allowed one. Only the second arrives.
	require.NoError(t, bus.Publish(ctx, "markets", []byte(`{"event":"market_resolved","market_id":"m1"}`)))
	require.NoError(t, bus.Publish(ctx, "markets", []byte(`{"event":"market_cancelled","market_id":"m2"}`)))
	sender.waitForSend(t)

	sends := sender.recorded()
	require.Len(t, sends, 1)
	assert.Equal(t, "settlement: market_cancelled", sends[0].title)
}

func TestListenerSenderFailureDoesNotStopOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	failing := newFakeSender()
	failing.err = errors.New("webhook down")
	working := newFakeSender()
	l := NewListener(bus, []Sender{failing, working}, []string{"claims"}, nil, testLogger())

	go func() { _ = l.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		_, ok := bus.channels["claims"]
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "claims", []byte(`{"event":"claim_paid","user_id":"u1"}`)))
	working.waitForSend(t)

	assert.Len(t, failing.recorded(), 1)
	assert.Len(t, working.recorded(), 1)
}

func TestFormatFieldsSortsAndSkipsEvent(t *testing.T) {
	out := formatFields(map[string]string{
		"event":  "market_resolved",
		"zeta":   "z",
		"alpha":  "a",
		"amount": "100",
	})
	assert.Equal(t, "alpha: a\namount: 100\nzeta: z", out)
}

func TestListenerNoSendersBlocksUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := newFakeBus()
	l := NewListener(bus, nil, []string{"markets"}, nil, testLogger())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
