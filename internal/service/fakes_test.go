package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMarketStore is an in-memory domain.MarketStore with the same
// compare-and-set transition semantics as the real adapter.
type fakeMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{markets: make(map[string]domain.Market)}
}

func (f *fakeMarketStore) Create(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	f.markets[m.ID] = m
	return nil
}

func (f *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) UpdateStatus(_ context.Context, id string, from, to domain.MarketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != from {
		return &domain.StateError{Entity: "market", ID: id, Current: string(m.Status), Requested: string(to)}
	}
	m.Status = to
	f.markets[id] = m
	return nil
}

func (f *fakeMarketStore) Resolve(_ context.Context, id string, result domain.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusLocked {
		return &domain.StateError{Entity: "market", ID: id, Current: string(m.Status), Requested: string(domain.MarketStatusResolved)}
	}
	m.Status = domain.MarketStatusResolved
	m.Result = result
	f.markets[id] = m
	return nil
}

func (f *fakeMarketStore) ListByStatus(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Market
	for _, m := range f.markets {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarketStore) ListLockable(_ context.Context, now time.Time, _ int) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Market
	for _, m := range f.markets {
		if m.Status == domain.MarketStatusOpen && !now.Before(m.LockTime) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarketStore) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.markets)), nil
}

// fakeStakeStore mirrors the real adapter's transactional behavior: a stake
// insert and its pool increment succeed or fail together, and a claim flips
// the flag and enqueues the transfer atomically.
type fakeStakeStore struct {
	mu      sync.Mutex
	markets *fakeMarketStore
	outbox  *fakeOutbox
	stakes  map[string]map[string]domain.Stake // marketID → userID → stake
}

func newFakeStakeStore(markets *fakeMarketStore, outbox *fakeOutbox) *fakeStakeStore {
	return &fakeStakeStore{
		markets: markets,
		outbox:  outbox,
		stakes:  make(map[string]map[string]domain.Stake),
	}
}

func (f *fakeStakeStore) Place(_ context.Context, s domain.Stake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets.mu.Lock()
	defer f.markets.mu.Unlock()

	m, ok := f.markets.markets[s.MarketID]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusOpen {
		return &domain.StateError{Entity: "market", ID: s.MarketID, Current: string(m.Status), Requested: "stake placement"}
	}
	byUser := f.stakes[s.MarketID]
	if byUser == nil {
		byUser = make(map[string]domain.Stake)
		f.stakes[s.MarketID] = byUser
	}
	if _, exists := byUser[s.UserID]; exists {
		return &domain.DuplicateStakeError{MarketID: s.MarketID, UserID: s.UserID}
	}
	byUser[s.UserID] = s
	m.AddStake(s.Outcome, s.Amount)
	f.markets.markets[s.MarketID] = m
	return nil
}

func (f *fakeStakeStore) GetByMarketUser(_ context.Context, marketID, userID string) (domain.Stake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stakes[marketID][userID]
	if !ok {
		return domain.Stake{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeStakeStore) ListByMarket(_ context.Context, marketID string) ([]domain.Stake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Stake
	for _, s := range f.stakes[marketID] {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStakeStore) ClaimWithTransfer(ctx context.Context, marketID, userID string, t domain.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stakes[marketID][userID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Claimed {
		return &domain.AlreadyClaimedError{EntityID: marketID, UserID: userID}
	}
	s.Claimed = true
	f.stakes[marketID][userID] = s
	return f.outbox.Enqueue(ctx, t)
}

func (f *fakeStakeStore) CountUnclaimed(_ context.Context, marketID string, outcome domain.Outcome) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.stakes[marketID] {
		if s.Outcome == outcome && !s.Claimed {
			n++
		}
	}
	return n, nil
}

// fakeDuelStore is an in-memory domain.DuelStore.
type fakeDuelStore struct {
	mu     sync.Mutex
	outbox *fakeOutbox
	duels  map[string]domain.Duel
}

func newFakeDuelStore(outbox *fakeOutbox) *fakeDuelStore {
	return &fakeDuelStore{outbox: outbox, duels: make(map[string]domain.Duel)}
}

func (f *fakeDuelStore) Create(_ context.Context, d domain.Duel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	// The real adapter inserts a new duel without an opponent; the slot is
	// only filled by Join.
	d.OpponentID = ""
	f.duels[d.ID] = d
	return nil
}

func (f *fakeDuelStore) GetByID(_ context.Context, id string) (domain.Duel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.duels[id]
	if !ok {
		return domain.Duel{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeDuelStore) Join(_ context.Context, id, opponentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.duels[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.Status != domain.DuelStatusOpen || d.OpponentID != "" {
		return &domain.StateError{Entity: "duel", ID: id, Current: string(d.Status), Requested: string(domain.DuelStatusActive)}
	}
	d.OpponentID = opponentID
	d.Status = domain.DuelStatusActive
	f.duels[id] = d
	return nil
}

func (f *fakeDuelStore) SetAnswer(_ context.Context, id string, creator bool, a domain.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.duels[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.Status != domain.DuelStatusActive {
		return &domain.StateError{Entity: "duel", ID: id, Current: string(d.Status), Requested: "answer submission"}
	}
	if creator {
		if d.CreatorAnswer != nil {
			return &domain.ValidationError{Field: "answer", Reason: "already submitted"}
		}
		d.CreatorAnswer = &a
	} else {
		if d.OpponentAnswer != nil {
			return &domain.ValidationError{Field: "answer", Reason: "already submitted"}
		}
		d.OpponentAnswer = &a
	}
	f.duels[id] = d
	return nil
}

func (f *fakeDuelStore) Complete(_ context.Context, id, winnerID string, draw bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.duels[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.Status != domain.DuelStatusActive {
		return &domain.StateError{Entity: "duel", ID: id, Current: string(d.Status), Requested: string(domain.DuelStatusCompleted)}
	}
	d.Status = domain.DuelStatusCompleted
	d.WinnerID = winnerID
	d.Draw = draw
	f.duels[id] = d
	return nil
}

func (f *fakeDuelStore) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.duels[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.Status != domain.DuelStatusOpen {
		return &domain.StateError{Entity: "duel", ID: id, Current: string(d.Status), Requested: string(domain.DuelStatusCancelled)}
	}
	d.Status = domain.DuelStatusCancelled
	f.duels[id] = d
	return nil
}

func (f *fakeDuelStore) ClaimWithTransfer(ctx context.Context, id, userID string, t domain.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.duels[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch {
	case userID == d.CreatorID:
		if d.CreatorClaimed {
			return &domain.AlreadyClaimedError{EntityID: id, UserID: userID}
		}
		d.CreatorClaimed = true
	case userID == d.OpponentID && d.OpponentID != "":
		if d.OpponentClaimed {
			return &domain.AlreadyClaimedError{EntityID: id, UserID: userID}
		}
		d.OpponentClaimed = true
	default:
		return domain.ErrNotFound
	}
	f.duels[id] = d
	return f.outbox.Enqueue(ctx, t)
}

func (f *fakeDuelStore) ListByStatus(_ context.Context, status domain.DuelStatus, _ domain.ListOpts) ([]domain.Duel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Duel
	for _, d := range f.duels {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeOutbox collects enqueued transfers.
type fakeOutbox struct {
	mu        sync.Mutex
	transfers []domain.Transfer
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{}
}

func (f *fakeOutbox) Enqueue(_ context.Context, t domain.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Status = domain.TransferStatusPending
	f.transfers = append(f.transfers, t)
	return nil
}

func (f *fakeOutbox) DequeuePending(_ context.Context, limit int) ([]domain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transfer
	for _, t := range f.transfers {
		if t.Status == domain.TransferStatusPending {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.transfers {
		if t.ID == id {
			f.transfers[i].Status = domain.TransferStatusSent
			f.transfers[i].Attempts++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id string, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.transfers {
		if t.ID == id {
			f.transfers[i].Attempts++
			f.transfers[i].LastError = cause
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeOutbox) all() []domain.Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Transfer, len(f.transfers))
	copy(out, f.transfers)
	return out
}

// fakeCache is a no-op market cache: every read misses.
type fakeCache struct{}

func (fakeCache) Set(context.Context, domain.Market) error { return nil }
func (fakeCache) Get(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (fakeCache) GetByEventRef(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (fakeCache) Invalidate(context.Context, string) error { return nil }

// fakeLimiter allows everything unless told otherwise.
type fakeLimiter struct {
	deny bool
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return !f.deny, nil
}

// fakeBus swallows events.
type fakeBus struct{}

func (fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}
func (fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeAudit records events.
type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// fakeLocks hands the lock to whoever asks first and releases on unlock.
type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

// fakeResults serves scripted final scores per event ref.
type fakeResults struct {
	mu     sync.Mutex
	scores map[string]domain.FinalScore
	errs   map[string]error
}

func newFakeResults() *fakeResults {
	return &fakeResults{
		scores: make(map[string]domain.FinalScore),
		errs:   make(map[string]error),
	}
}

func (f *fakeResults) Final(_ context.Context, eventRef string) (domain.FinalScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[eventRef]; ok {
		return domain.FinalScore{}, err
	}
	score, ok := f.scores[eventRef]
	if !ok {
		return domain.FinalScore{}, domain.ErrResultUnavailable
	}
	return score, nil
}

// fakeTransferrer records sent transfers and can fail specific IDs.
type fakeTransferrer struct {
	mu     sync.Mutex
	sent   map[string]int
	failID string
}

func newFakeTransferrer() *fakeTransferrer {
	return &fakeTransferrer{sent: make(map[string]int)}
}

func (f *fakeTransferrer) Transfer(_ context.Context, idempotencyKey, _ string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idempotencyKey == f.failID {
		return errors.New("value service unavailable")
	}
	f.sent[idempotencyKey]++
	return nil
}
