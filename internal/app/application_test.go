package app

import (
	"context"
	"testing"
	"time"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/services/engine"
	"github.com/rafflehouse/raffle-engine/internal/config"
)

func wiringConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{Owner: "owner", Admins: []string{"admin"}},
		Raffle: config.RaffleConfig{
			TreasuryWallet: "treasury",
			CharityWallet:  "charity",
			ExpenseWallet:  "expense",

			WinnerBP:      5000,
			CharityBP:     100,
			LuckyRefundBP: 200,
			TreasuryBP:    700,
			MaxMarginBP:   3000,
			ServiceFeeBP:  50,

			ClaimRewardDuration:      168 * time.Hour,
			ClaimRefundDuration:      720 * time.Hour,
			ClaimLuckyRefundDuration: 720 * time.Hour,
			MaxRerollAttempts:        3,
		},
		Scheduler: config.SchedulerConfig{Enabled: true, Spec: "@every 30s"},
	}
}

func TestNewWiresServices(t *testing.T) {
	application, err := New(wiringConfig(), Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if application.Engine == nil || application.Randomness == nil || application.LuckyRefund == nil {
		t.Fatalf("core services not wired")
	}
	if application.Scheduler == nil {
		t.Fatalf("scheduler enabled but not wired")
	}
	if application.Funds == nil {
		t.Fatalf("default funds ledger not installed")
	}

	cfg := wiringConfig()
	cfg.Scheduler.Enabled = false
	disabled, err := New(cfg, Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new without scheduler: %v", err)
	}
	if disabled.Scheduler != nil {
		t.Fatalf("scheduler wired while disabled")
	}
}

func TestAuthorityFromConfig(t *testing.T) {
	ctx := context.Background()
	application, err := New(wiringConfig(), Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	params := engine.CreateParams{
		AccountID:   "acct-1",
		Category:    raffle.CategoryPhysical,
		PrizeName:   "widget",
		PrizeValue:  80,
		TicketPrice: 10,
		Duration:    24 * time.Hour,
	}
	if _, err := application.Engine.CreateRaffle(ctx, "stranger", params); err == nil {
		t.Fatalf("expected non-admin rejection")
	}
	for _, caller := range []string{"owner", "admin"} {
		if _, err := application.Engine.CreateRaffle(ctx, caller, params); err != nil {
			t.Fatalf("create as %s: %v", caller, err)
		}
	}
}

func TestLedgerTransferRecords(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedgerTransfer(nil)

	batch := []engine.Movement{
		{Wallet: "treasury", Amount: 59, Memo: "settle"},
		{Wallet: "charity", Amount: 1, Memo: "settle"},
	}
	if err := ledger.Transfer(ctx, batch); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	entries := ledger.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries: %d", len(entries))
	}
	if entries[0].Wallet != "treasury" || entries[0].Amount != 59 {
		t.Fatalf("first entry: %+v", entries[0])
	}

	// The returned slice is a copy.
	entries[0].Amount = 0
	if ledger.Entries()[0].Amount != 59 {
		t.Fatalf("entries slice shared with caller")
	}
}

func TestSettlementFlowsThroughLedger(t *testing.T) {
	ctx := context.Background()
	application, err := New(wiringConfig(), Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	r, err := application.Engine.CreateRaffle(ctx, "admin", engine.CreateParams{
		AccountID:   "acct-1",
		Category:    raffle.CategoryPhysical,
		PrizeName:   "widget",
		PrizeValue:  80,
		TicketPrice: 10,
		Duration:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	buyers := []string{"b1", "b2", "b3", "b4", "b5"}
	for _, b := range buyers {
		if _, err := application.Engine.BuyTickets(ctx, r.ID, b, 2); err != nil {
			t.Fatalf("buy for %s: %v", b, err)
		}
	}
	if _, err := application.Engine.BuyTickets(ctx, r.ID, "b6", 1); err != nil {
		t.Fatalf("final buy: %v", err)
	}

	if _, err := application.Engine.MarkHappening(ctx, r.ID); err != nil {
		t.Fatalf("mark happening: %v", err)
	}
	cur, err := application.Engine.CloseRaffle(ctx, r.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := application.Randomness.Fulfill(ctx, cur.RandomRequestID, 13); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	cur, _ = application.Engine.GetRaffle(ctx, r.ID)
	if cur.Winner == "" {
		t.Fatalf("no winner after fulfillment")
	}

	if _, err := application.Engine.Claim(ctx, r.ID, cur.Winner, cur.SkillTestAnswer, false); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ledger, ok := application.Funds.(*LedgerTransfer)
	if !ok {
		t.Fatalf("default funds is not the recording ledger")
	}
	var total int64
	for _, e := range ledger.Entries() {
		total += e.Amount
	}
	// Revenue 110 less the lucky refund share of 1, which stays pooled.
	if total != 109 {
		t.Fatalf("settled total: got %d, want 109", total)
	}
}
