package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/storage/memory"
)

type staticConfig struct {
	cfg Config
}

func (p staticConfig) Snapshot(context.Context) (Config, error) { return p.cfg, nil }

type staticAuth struct {
	owner  string
	admins map[string]bool
}

func (p staticAuth) Owner(context.Context) (string, error) { return p.owner, nil }
func (p staticAuth) IsAdmin(_ context.Context, addr string) (bool, error) {
	return p.admins[addr], nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type transferRecord struct {
	Wallet string
	Amount int64
	Memo   string
}

type fundsRecorder struct {
	mu        sync.Mutex
	transfers []transferRecord
	calls     int
	failNext  error
}

func (f *fundsRecorder) Transfer(_ context.Context, movements []Movement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	for _, m := range movements {
		f.transfers = append(f.transfers, transferRecord{Wallet: m.Wallet, Amount: m.Amount, Memo: m.Memo})
	}
	return nil
}

func (f *fundsRecorder) failOnce(err error) {
	f.mu.Lock()
	f.failNext = err
	f.mu.Unlock()
}

func (f *fundsRecorder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fundsRecorder) total() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, tr := range f.transfers {
		sum += tr.Amount
	}
	return sum
}

func (f *fundsRecorder) paidTo(wallet string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, tr := range f.transfers {
		if tr.Wallet == wallet {
			sum += tr.Amount
		}
	}
	return sum
}

type randomStub struct {
	mu       sync.Mutex
	requests []string
}

func (r *randomStub) Request(_ context.Context, raffleID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, raffleID)
	return fmt.Sprintf("req-%d", len(r.requests)), nil
}

func (r *randomStub) lastID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("req-%d", len(r.requests))
}

type activatorStub struct {
	mu        sync.Mutex
	activated []string
}

func (a *activatorStub) Activate(_ context.Context, raffleID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activated = append(a.activated, raffleID)
	return nil
}

func testConfig() Config {
	return Config{
		TreasuryWallet:   "treasury",
		CharityWallet:    "charity",
		ExpenseWallet:    "expense",
		ServiceFeeWallet: "fees",

		WinnerBP:      5000,
		TreasuryBP:    700,
		CharityBP:     100,
		LuckyRefundBP: 200,
		MaxMarginBP:   3000,
		ServiceFeeBP:  50,

		ClaimRewardDuration:      7 * 24 * time.Hour,
		ClaimRefundDuration:      30 * 24 * time.Hour,
		ClaimLuckyRefundDuration: 30 * 24 * time.Hour,

		MaxRerollAttempts: 3,
	}
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	clock  *fakeClock
	funds  *fundsRecorder
	random *randomStub
	lucky  *activatorStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	funds := &fundsRecorder{}
	random := &randomStub{}
	lucky := &activatorStub{}

	svc := New(store, staticConfig{cfg: testConfig()}, staticAuth{owner: "owner", admins: map[string]bool{"admin": true}}, nil)
	svc.WithClock(clock.Now)
	svc.WithFunds(funds)
	svc.WithRandomness(random)
	svc.WithLuckyRefund(lucky)
	return &fixture{svc: svc, store: store, clock: clock, funds: funds, random: random, lucky: lucky}
}

func (f *fixture) createRaffle(t *testing.T, p CreateParams) raffle.Raffle {
	t.Helper()
	if p.AccountID == "" {
		p.AccountID = "acct-1"
	}
	if p.Category == "" {
		p.Category = raffle.CategoryPhysical
	}
	if p.PrizeName == "" {
		p.PrizeName = "prize"
	}
	if p.PrizeValue == 0 {
		p.PrizeValue = 80
	}
	if p.TicketPrice == 0 {
		p.TicketPrice = 10
	}
	if p.Duration == 0 {
		p.Duration = 24 * time.Hour
	}
	r, err := f.svc.CreateRaffle(context.Background(), "admin", p)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	return r
}

func TestCreateRaffle_Bounds(t *testing.T) {
	f := newFixture(t)
	r := f.createRaffle(t, CreateParams{PrizeValue: 80, TicketPrice: 10})

	// marginBase 11000: min = ceil(80*11000/100000), max = ceil(80*13000/100000).
	if r.MinTickets != 9 {
		t.Fatalf("min tickets: got %d, want 9", r.MinTickets)
	}
	if r.MaxTickets != 11 {
		t.Fatalf("max tickets: got %d, want 11", r.MaxTickets)
	}
	if r.Status != raffle.StatusScheduled {
		t.Fatalf("status: got %s", r.Status)
	}
	if r.OriginRaffleID != r.ID {
		t.Fatalf("origin should be own id, got %s", r.OriginRaffleID)
	}
	if !r.EndTime.Equal(r.StartTime.Add(24 * time.Hour)) {
		t.Fatalf("end time not derived from duration")
	}
}

func TestCreateRaffle_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateRaffle(ctx, "nobody", CreateParams{
		AccountID: "a", Category: raffle.CategoryMoney, PrizeValue: 10, TicketPrice: 1, Duration: time.Hour,
	}); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("want ErrNotAdmin, got %v", err)
	}

	if _, err := f.svc.CreateRaffle(ctx, "admin", CreateParams{
		AccountID: "a", Category: "yacht", PrizeValue: 10, TicketPrice: 1, Duration: time.Hour,
	}); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("want ErrInvalidCategory, got %v", err)
	}

	if _, err := f.svc.CreateRaffle(ctx, "admin", CreateParams{
		AccountID: "a", Category: raffle.CategoryMoney, PrizeValue: 0, TicketPrice: 1, Duration: time.Hour,
	}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("want ErrInvalidAmount, got %v", err)
	}

	if _, err := f.svc.CreateRaffle(ctx, "admin", CreateParams{
		AccountID: "a", Category: raffle.CategoryMoney, PrizeValue: 10, TicketPrice: 1,
	}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("want ErrInvalidDuration, got %v", err)
	}

	if _, err := f.svc.CreateRaffle(ctx, "admin", CreateParams{
		Category: raffle.CategoryMoney, PrizeValue: 10, TicketPrice: 1, Duration: time.Hour,
	}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("want ErrInvalidAddress, got %v", err)
	}
}

func TestCreateRaffle_OwnerBypassesAdminList(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CreateRaffle(context.Background(), "owner", CreateParams{
		AccountID: "a", Category: raffle.CategoryMoney, PrizeValue: 100, TicketPrice: 10, Duration: time.Hour,
	}); err != nil {
		t.Fatalf("owner create: %v", err)
	}
}

func TestCreateRaffle_SnapshotIsolatedFromConfigChanges(t *testing.T) {
	store := memory.New()
	cfg := testConfig()
	provider := &mutableConfig{cfg: cfg}
	svc := New(store, provider, staticAuth{owner: "owner"}, nil)

	r, err := svc.CreateRaffle(context.Background(), "owner", CreateParams{
		AccountID: "a", Category: raffle.CategoryMoney, PrizeValue: 100, TicketPrice: 10, Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	provider.mu.Lock()
	provider.cfg.CharityBP = 9000
	provider.mu.Unlock()

	got, err := svc.GetRaffle(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Allocation.CharityBP != 100 {
		t.Fatalf("allocation snapshot mutated: %d", got.Allocation.CharityBP)
	}
}

type mutableConfig struct {
	mu  sync.Mutex
	cfg Config
}

func (p *mutableConfig) Snapshot(context.Context) (Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, nil
}

// txRecordingStore counts how often the engine asks for a store
// transaction around its multi-record writes.
type txRecordingStore struct {
	*memory.Store
	mu    sync.Mutex
	calls int
}

func (s *txRecordingStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return fn(ctx)
}

func (s *txRecordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestMultiRecordWritesRunInStoreTransaction(t *testing.T) {
	store := &txRecordingStore{Store: memory.New()}
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := New(store, staticConfig{cfg: testConfig()}, staticAuth{owner: "owner", admins: map[string]bool{"admin": true}}, nil)
	svc.WithClock(clock.Now)
	svc.WithFunds(&fundsRecorder{})
	svc.WithRandomness(&randomStub{})
	ctx := context.Background()

	r, err := svc.CreateRaffle(ctx, "admin", CreateParams{
		AccountID:   "acct-1",
		Category:    raffle.CategoryPhysical,
		PrizeName:   "prize",
		PrizeValue:  80,
		TicketPrice: 10,
		Duration:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("create opened a transaction: %d", store.count())
	}

	if _, err := svc.BuyTickets(ctx, r.ID, "b1", 2); err != nil {
		t.Fatalf("buy tickets: %v", err)
	}
	// The participant upsert, ledger append and raffle update commit
	// together.
	if store.count() != 1 {
		t.Fatalf("purchase transactions: got %d, want 1", store.count())
	}
}
