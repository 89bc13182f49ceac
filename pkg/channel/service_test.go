package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/notify"
)

// memStore serialises Update the way the row lock does.
type memStore struct {
	mu        sync.Mutex
	channels  map[string]Channel
	ledger    []LedgerEntry
	updateErr error
}

func newMemStore(chs ...Channel) *memStore {
	s := &memStore{channels: map[string]Channel{}}
	for _, ch := range chs {
		s.channels[ch.ID] = ch
	}
	return s
}

func (s *memStore) Create(ctx context.Context, ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.ID]; ok {
		return ErrDuplicateChannel
	}
	s.channels[ch.ID] = ch
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	return ch, nil
}

func (s *memStore) List(ctx context.Context, f ListFilter) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Channel
	for _, ch := range s.channels {
		if f.UserID != "" && ch.UserID != f.UserID {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, id string, fn UpdateFunc) (Channel, *LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.channels[id]
	if !ok {
		return Channel{}, nil, ErrChannelNotFound
	}
	next, e, err := fn(current)
	if err != nil {
		return Channel{}, nil, err
	}
	if s.updateErr != nil {
		return Channel{}, nil, s.updateErr
	}
	s.channels[id] = next
	if e != nil {
		s.ledger = append(s.ledger, *e)
	}
	return next, e, nil
}

func (s *memStore) Ledger(ctx context.Context, channelID string, limit, offset int) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LedgerEntry
	for _, e := range s.ledger {
		if e.ChannelID == channelID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *memAudit) Write(ctx context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.EventType
}

func (n *recordingNotifier) Notify(ctx context.Context, userID string, event notify.EventType, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type reactivations struct {
	mu    sync.Mutex
	users []string
}

func (r *reactivations) ReactivateUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memStore
	pool     *balance.Pool
	audit    *memAudit
	notifier *recordingNotifier
	accounts *reactivations
}

func newFixture(poolBalance int64, maxDaysAhead int, chs ...Channel) *fixture {
	f := &fixture{
		store:    newMemStore(chs...),
		pool:     balance.NewPool(balance.NewMemoryStore(poolBalance), balance.WithMaxAttempts(1000)),
		audit:    &memAudit{},
		notifier: &recordingNotifier{},
		accounts: &reactivations{},
	}
	f.svc = NewService(ServiceConfig{
		Store:        f.store,
		Pool:         f.pool,
		Accounts:     f.accounts,
		Audit:        f.audit,
		Notifier:     f.notifier,
		Now:          func() time.Time { return testNow },
		MaxDaysAhead: maxDaysAhead,
	})
	return f
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.pool.Balance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestGrantExtendsActiveChannel(t *testing.T) {
	f := newFixture(100, 0, Channel{ID: "ch", UserID: "u1", Status: StatusActive, ActiveFrom: at(-5 * Day), ExpiresAt: at(10 * Day)})

	res, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 5, Source: SourceAdminManual, CreatedBy: "admin"})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !res.Channel.ExpiresAt.Equal(testNow.Add(15*Day)) || res.Branch != BranchExtend {
		t.Fatalf("expiresAt %v branch %s", res.Channel.ExpiresAt, res.Branch)
	}
	if len(f.store.ledger) != 1 || f.store.ledger[0].Days != 5 {
		t.Fatalf("ledger = %+v", f.store.ledger)
	}
	if res.Entry.BalanceTransactionID == "" {
		t.Fatal("ledger entry not linked to the balance debit")
	}
	if got := f.balance(t); got != 95 {
		t.Fatalf("pool = %d, want 95", got)
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Action != audit.ActionDaysGranted {
		t.Fatalf("audit = %+v", f.audit.entries)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0] != notify.EventChannelDaysGranted {
		t.Fatalf("events = %v", f.notifier.events)
	}
	if len(f.accounts.users) != 1 || f.accounts.users[0] != "u1" {
		t.Fatalf("reactivated = %v", f.accounts.users)
	}
}

func TestGrantRestartsExpiredChannel(t *testing.T) {
	f := newFixture(100, 0, Channel{ID: "ch", UserID: "u1", Status: StatusPaused, ActiveFrom: at(-30 * Day), ExpiresAt: at(-2 * Day)})

	res, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 7, Source: SourcePayPal})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	ch := res.Channel
	if ch.Status != StatusActive || !ch.ActiveFrom.Equal(testNow) || !ch.ExpiresAt.Equal(testNow.Add(7*Day)) {
		t.Fatalf("channel = %+v", ch)
	}
	if ch.DaysRemaining != 7 {
		t.Fatalf("days remaining = %d", ch.DaysRemaining)
	}
}

func TestGrantValidatesInput(t *testing.T) {
	f := newFixture(100, 0, Channel{ID: "ch", Status: StatusPending})
	ctx := context.Background()

	if _, err := f.svc.Grant(ctx, GrantRequest{ChannelID: "ch", Days: 0, Source: SourcePayPal}); !errors.Is(err, ErrInvalidDays) {
		t.Errorf("days 0: %v", err)
	}
	if _, err := f.svc.Grant(ctx, GrantRequest{ChannelID: "ch", Days: 1, Source: "GIFT"}); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("bad source: %v", err)
	}
	if _, err := f.svc.Grant(ctx, GrantRequest{ChannelID: "missing", Days: 1, Source: SourcePayPal}); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("missing channel: %v", err)
	}
	if got := f.balance(t); got != 100 {
		t.Fatalf("pool touched by rejected grants: %d", got)
	}
}

func TestGrantInsufficientBalance(t *testing.T) {
	f := newFixture(3, 0, Channel{ID: "ch", Status: StatusPending})

	_, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 5, Source: SourceAdminManual})
	if !errors.Is(err, balance.ErrInsufficientBalance) {
		t.Fatalf("err = %v", err)
	}
	if ch := f.store.channels["ch"]; ch.Status != StatusPending || ch.ExpiresAt != nil {
		t.Fatalf("channel changed: %+v", ch)
	}
	if len(f.store.ledger) != 0 {
		t.Fatal("ledger written for unfunded grant")
	}
	if got := f.balance(t); got != 3 {
		t.Fatalf("pool = %d", got)
	}
}

func TestGrantMigrationDoesNotDrawFromPool(t *testing.T) {
	f := newFixture(0, 0, Channel{ID: "ch", Status: StatusPending})

	res, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 30, Source: SourceMigration})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if res.Entry.BalanceTransactionID != "" {
		t.Fatal("migration grant linked to a debit")
	}
}

func TestGrantRefundsWhenWriteFails(t *testing.T) {
	f := newFixture(10, 0, Channel{ID: "ch", Status: StatusActive, ExpiresAt: at(Day)})
	f.store.updateErr = errors.New("connection reset")

	_, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 4, Source: SourceOffline})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := f.balance(t); got != 10 {
		t.Fatalf("pool = %d, want refunded 10", got)
	}
	txs, _ := f.pool.Transactions(context.Background(), 10, 0)
	if len(txs) != 2 || txs[0].Kind != balance.KindRefund || txs[0].Reference != txs[1].ID {
		t.Fatalf("transactions = %+v", txs)
	}
}

func TestGrantRespectsCap(t *testing.T) {
	f := newFixture(100, 30, Channel{ID: "ch", Status: StatusActive, ExpiresAt: at(25 * Day)})
	ctx := context.Background()

	if _, err := f.svc.Grant(ctx, GrantRequest{ChannelID: "ch", Days: 6, Source: SourceAdminManual}); !errors.Is(err, ErrExceedsCap) {
		t.Fatalf("err = %v, want ErrExceedsCap", err)
	}
	if got := f.balance(t); got != 100 {
		t.Fatalf("pool = %d", got)
	}
	if _, err := f.svc.Grant(ctx, GrantRequest{ChannelID: "ch", Days: 5, Source: SourceAdminManual}); err != nil {
		t.Fatalf("grant up to the cap: %v", err)
	}
}

func TestGrantAutoExtendSkipsPerChannelAudit(t *testing.T) {
	f := newFixture(0, 0, Channel{ID: "ch", UserID: "u1", Status: StatusActive, ExpiresAt: at(Day)})

	_, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 1, Source: SourceAutoExtend, BalanceTransactionID: "tx-1"})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if len(f.audit.entries) != 0 {
		t.Fatalf("audit = %+v", f.audit.entries)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0] != notify.EventChannelAutoExtended {
		t.Fatalf("events = %v", f.notifier.events)
	}
	if f.store.ledger[0].BalanceTransactionID != "tx-1" {
		t.Fatal("prepaid transaction id not kept")
	}
}

func TestConcurrentGrantsAllLand(t *testing.T) {
	f := newFixture(1000, 0, Channel{ID: "ch", Status: StatusActive, ExpiresAt: at(10 * Day)})

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Grant(context.Background(), GrantRequest{ChannelID: "ch", Days: 2, Source: SourceAdminManual}); err != nil {
				t.Errorf("Grant: %v", err)
			}
		}()
	}
	wg.Wait()

	ch := f.store.channels["ch"]
	if want := testNow.Add((10 + 2*n) * Day); !ch.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", ch.ExpiresAt, want)
	}
	if len(f.store.ledger) != n {
		t.Fatalf("ledger rows = %d, want %d", len(f.store.ledger), n)
	}
	// ledger chains: every entry starts where another ended
	afters := map[time.Time]bool{}
	for _, e := range f.store.ledger {
		afters[e.ExpiresAtAfter] = true
	}
	for _, e := range f.store.ledger {
		if e.ExpiresAtBefore.Equal(testNow.Add(10 * Day)) {
			continue
		}
		if !afters[*e.ExpiresAtBefore] {
			t.Fatalf("ledger entry %s does not chain", e.ID)
		}
	}
	if got := f.balance(t); got != 1000-2*n {
		t.Fatalf("pool = %d", got)
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(0, 0,
		Channel{ID: "live", Status: StatusActive, ExpiresAt: at(3 * Day)},
		Channel{ID: "dead", Status: StatusPaused, ExpiresAt: at(-time.Hour)},
		Channel{ID: "new", Status: StatusPending},
	)
	ctx := context.Background()

	ch, err := f.svc.Pause(ctx, "live", "admin")
	if err != nil || ch.Status != StatusPaused {
		t.Fatalf("Pause = %+v, %v", ch, err)
	}
	ch, err = f.svc.Resume(ctx, "live", "admin")
	if err != nil || ch.Status != StatusActive || ch.DaysRemaining != 3 {
		t.Fatalf("Resume = %+v, %v", ch, err)
	}
	if _, err := f.svc.Resume(ctx, "dead", "admin"); !errors.Is(err, ErrChannelExpired) {
		t.Fatalf("resume expired: %v", err)
	}
	if _, err := f.svc.Pause(ctx, "new", "admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause pending: %v", err)
	}
	if len(f.audit.entries) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(f.audit.entries))
	}
}

func TestCreateStartsPending(t *testing.T) {
	f := newFixture(0, 0)
	ch, err := f.svc.Create(context.Background(), CreateRequest{UserID: "u1", Name: "  Sales  ", Phone: "+628123"})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Status != StatusPending || ch.ExpiresAt != nil || ch.Name != "Sales" || ch.Phone != "628123" {
		t.Fatalf("channel = %+v", ch)
	}
}
