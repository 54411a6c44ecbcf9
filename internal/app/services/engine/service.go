// Package engine implements the raffle lifecycle state machine, ticket
// sales, winner settlement and the fund allocation arithmetic.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/metrics"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// Service owns every raffle state transition. All mutating operations
// validate against the stored status first and only then write, so a failed
// call leaves no partial state behind.
type Service struct {
	store  storage.RaffleStore
	cfg    ConfigProvider
	auth   AuthorityProvider
	random RandomnessRequester
	escrow PrizeEscrow
	funds  FundTransfer
	lucky  RefundActivator
	meters *metrics.Metrics
	log    *logger.Logger

	now func() time.Time
}

// New constructs the raffle engine.
func New(store storage.RaffleStore, cfg ConfigProvider, auth AuthorityProvider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	return &Service{
		store: store,
		cfg:   cfg,
		auth:  auth,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithRandomness sets the randomness requester used when a raffle closes.
func (s *Service) WithRandomness(r RandomnessRequester) { s.random = r }

// WithEscrow sets the prize custody collaborator.
func (s *Service) WithEscrow(e PrizeEscrow) { s.escrow = e }

// WithFunds sets the cash settlement collaborator.
func (s *Service) WithFunds(f FundTransfer) { s.funds = f }

// WithLuckyRefund sets the lucky refund activation capability.
func (s *Service) WithLuckyRefund(a RefundActivator) { s.lucky = a }

// WithMetrics attaches engine metrics.
func (s *Service) WithMetrics(m *metrics.Metrics) { s.meters = m }

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// CreateParams are the operator-supplied fields of a new raffle.
type CreateParams struct {
	AccountID      string
	Category       raffle.Category
	PrizeName      string
	PrizeValue     int64
	TicketPrice    int64
	StartTime      time.Time
	Duration       time.Duration
	Recurrent      bool
	CashAltEnabled bool
	Wallets        raffle.WalletOverrides

	// Escrow deposit for non-money categories.
	TokenKind    string
	TokenAddress string
	TokenAmount  int64
}

// CreateRaffle provisions a new raffle in SCHEDULED state. Admin only. The
// allocation percentages are snapshotted from configuration so later config
// changes never affect this raffle.
func (s *Service) CreateRaffle(ctx context.Context, caller string, p CreateParams) (raffle.Raffle, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return raffle.Raffle{}, err
	}
	if !p.Category.Valid() {
		return raffle.Raffle{}, fmt.Errorf("%w: %q", ErrInvalidCategory, p.Category)
	}
	if p.PrizeValue <= 0 || p.TicketPrice <= 0 {
		return raffle.Raffle{}, fmt.Errorf("%w: prize value and ticket price", ErrInvalidAmount)
	}
	if p.Duration <= 0 {
		return raffle.Raffle{}, ErrInvalidDuration
	}
	if strings.TrimSpace(p.AccountID) == "" {
		return raffle.Raffle{}, fmt.Errorf("%w: account id is required", ErrInvalidAddress)
	}

	cfg, err := s.cfg.Snapshot(ctx)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("config snapshot: %w", err)
	}
	alloc := raffle.AllocationSnapshot{
		WinnerBP:      cfg.WinnerBP,
		TreasuryBP:    cfg.TreasuryBP,
		CharityBP:     cfg.CharityBP,
		LuckyRefundBP: cfg.LuckyRefundBP,
		MaxMarginBP:   cfg.MaxMarginBP,
		ServiceFeeBP:  cfg.ServiceFeeBP,
	}

	minTickets, maxTickets := ticketBounds(p.PrizeValue, p.TicketPrice, alloc)
	if minTickets > maxTickets {
		return raffle.Raffle{}, fmt.Errorf("%w: min %d exceeds max %d", ErrTicketBounds, minTickets, maxTickets)
	}

	start := p.StartTime
	if start.IsZero() {
		start = s.now()
	}

	r := raffle.Raffle{
		AccountID:      p.AccountID,
		Category:       p.Category,
		PrizeName:      p.PrizeName,
		PrizeValue:     p.PrizeValue,
		TicketPrice:    p.TicketPrice,
		MinTickets:     minTickets,
		MaxTickets:     maxTickets,
		StartTime:      start.UTC(),
		Duration:       p.Duration,
		EndTime:        start.UTC().Add(p.Duration),
		Status:         raffle.StatusScheduled,
		Recurrent:      p.Recurrent,
		CashAltEnabled: p.CashAltEnabled,
		Wallets:        p.Wallets,
		Allocation:     alloc,
	}

	created, err := s.store.CreateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("create raffle: %w", err)
	}
	created.OriginRaffleID = created.ID
	created, err = s.store.UpdateRaffle(ctx, created)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("set lineage: %w", err)
	}

	if s.escrow != nil && p.Category != raffle.CategoryMoney {
		if err := s.escrow.Deposit(ctx, created.ID, p.TokenKind, p.TokenAddress, p.TokenAmount); err != nil {
			return raffle.Raffle{}, fmt.Errorf("escrow deposit: %w", err)
		}
	}

	s.log.WithField("raffle_id", created.ID).
		WithField("account_id", created.AccountID).
		WithField("category", created.Category).
		WithField("min_tickets", created.MinTickets).
		WithField("max_tickets", created.MaxTickets).
		Info("raffle created")
	s.meters.IncRafflesCreated()

	return created, nil
}

// ticketBounds derives the min/max ticket counts from the prize value and
// snapshot percentages. The minimum guarantees revenue of at least prize
// value scaled by the full margin base; the maximum caps oversell at the
// configured max margin above prize value.
func ticketBounds(prizeValue, ticketPrice int64, a raffle.AllocationSnapshot) (int64, int64) {
	min := ceilDiv(prizeValue*a.MarginBase(), 10_000*ticketPrice)
	max := ceilDiv(prizeValue*(10_000+a.MaxMarginBP), 10_000*ticketPrice)
	if max < min {
		max = min
	}
	return min, max
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// GetRaffle retrieves a raffle by id.
func (s *Service) GetRaffle(ctx context.Context, id string) (raffle.Raffle, error) {
	return s.store.GetRaffle(ctx, id)
}

// ListRaffles lists raffles for an operator account.
func (s *Service) ListRaffles(ctx context.Context, accountID string, limit int) ([]raffle.Raffle, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListRaffles(ctx, accountID, limit)
}

// ListEntries returns the cumulative entries ledger of a raffle.
func (s *Service) ListEntries(ctx context.Context, raffleID string) ([]raffle.Entry, error) {
	return s.store.ListEntries(ctx, raffleID)
}

// GetParticipant retrieves one buyer record of a raffle.
func (s *Service) GetParticipant(ctx context.Context, raffleID, address string) (raffle.Participant, error) {
	return s.store.GetParticipant(ctx, raffleID, address)
}

// GetStats aggregates raffle activity for an account.
func (s *Service) GetStats(ctx context.Context, accountID string) (raffle.Stats, error) {
	return s.store.GetStats(ctx, accountID)
}

// requireAdmin rejects callers that are neither the owner nor an admin.
func (s *Service) requireAdmin(ctx context.Context, caller string) error {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return fmt.Errorf("%w: caller is required", ErrInvalidAddress)
	}
	if s.auth == nil {
		return ErrNotAdmin
	}
	if owner, err := s.auth.Owner(ctx); err == nil && owner == caller {
		return nil
	}
	ok, err := s.auth.IsAdmin(ctx, caller)
	if err != nil {
		return fmt.Errorf("authority check: %w", err)
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

// atomically runs fn through the store's transaction capability when it has
// one, so multi-record writes commit or roll back together. Stores without
// the capability run fn directly.
func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := s.store.(storage.Transactional); ok {
		return tx.RunInTransaction(ctx, fn)
	}
	return fn(ctx)
}

// config fetches the live configuration; durations and reroll limits are
// read live rather than from the per-raffle snapshot.
func (s *Service) config(ctx context.Context) (Config, error) {
	cfg, err := s.cfg.Snapshot(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("config snapshot: %w", err)
	}
	return cfg, nil
}

// wallet resolution: per-raffle overrides fall back to global config.

func treasuryWallet(r raffle.Raffle, cfg Config) string {
	if r.Wallets.Treasury != "" {
		return r.Wallets.Treasury
	}
	return cfg.TreasuryWallet
}

func charityWallet(r raffle.Raffle, cfg Config) string {
	if r.Wallets.Charity != "" {
		return r.Wallets.Charity
	}
	return cfg.CharityWallet
}

func expenseWallet(r raffle.Raffle, cfg Config) string {
	if r.Wallets.Expense != "" {
		return r.Wallets.Expense
	}
	return cfg.ExpenseWallet
}

func serviceFeeWallet(r raffle.Raffle, cfg Config) string {
	if r.Wallets.ServiceFee != "" {
		return r.Wallets.ServiceFee
	}
	return cfg.ServiceFeeWallet
}

// transfer is a nil-safe single-movement FundTransfer call.
func (s *Service) transfer(ctx context.Context, wallet string, amount int64, memo string) error {
	return s.transferBatch(ctx, []Movement{{Wallet: wallet, Amount: amount, Memo: memo}})
}

// transferBatch commits the non-empty movements in one FundTransfer call.
// Zero amounts and blank wallets are dropped first.
func (s *Service) transferBatch(ctx context.Context, movements []Movement) error {
	if s.funds == nil {
		return nil
	}
	batch := make([]Movement, 0, len(movements))
	for _, m := range movements {
		if m.Amount == 0 || m.Wallet == "" {
			continue
		}
		batch = append(batch, m)
	}
	if len(batch) == 0 {
		return nil
	}
	return s.funds.Transfer(ctx, batch)
}
