package app

import (
	"context"
	"sync"

	"github.com/rafflehouse/raffle-engine/internal/app/services/engine"
	"github.com/rafflehouse/raffle-engine/internal/config"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// staticConfig serves the engine a fixed configuration snapshot derived
// from the loaded platform configuration.
type staticConfig struct {
	cfg engine.Config
}

func newStaticConfig(rc config.RaffleConfig) staticConfig {
	return staticConfig{cfg: engine.Config{
		TreasuryWallet:   rc.TreasuryWallet,
		CharityWallet:    rc.CharityWallet,
		ExpenseWallet:    rc.ExpenseWallet,
		ServiceFeeWallet: rc.ServiceFeeWallet,

		WinnerBP:      rc.WinnerBP,
		TreasuryBP:    rc.TreasuryBP,
		CharityBP:     rc.CharityBP,
		LuckyRefundBP: rc.LuckyRefundBP,
		MaxMarginBP:   rc.MaxMarginBP,
		ServiceFeeBP:  rc.ServiceFeeBP,

		ClaimRewardDuration:      rc.ClaimRewardDuration,
		ClaimRefundDuration:      rc.ClaimRefundDuration,
		ClaimLuckyRefundDuration: rc.ClaimLuckyRefundDuration,

		MaxRerollAttempts: rc.MaxRerollAttempts,
	}}
}

func (p staticConfig) Snapshot(ctx context.Context) (engine.Config, error) {
	return p.cfg, nil
}

// staticAuthority answers owner and admin checks from the loaded
// configuration.
type staticAuthority struct {
	owner  string
	admins map[string]bool
}

func newStaticAuthority(ac config.AuthConfig) staticAuthority {
	admins := make(map[string]bool, len(ac.Admins))
	for _, a := range ac.Admins {
		if a != "" {
			admins[a] = true
		}
	}
	return staticAuthority{owner: ac.Owner, admins: admins}
}

func (p staticAuthority) Owner(ctx context.Context) (string, error) {
	return p.owner, nil
}

func (p staticAuthority) IsAdmin(ctx context.Context, address string) (bool, error) {
	return address == p.owner || p.admins[address], nil
}

// LedgerTransfer records every settlement transfer and logs it. It stands
// in for a payments gateway in development; production deployments attach a
// real gateway through the same port.
type LedgerTransfer struct {
	log *logger.Logger

	mu      sync.Mutex
	entries []TransferEntry
}

// TransferEntry is one recorded settlement movement.
type TransferEntry struct {
	Wallet string
	Amount int64
	Memo   string
}

// NewLedgerTransfer builds a recording transfer ledger.
func NewLedgerTransfer(log *logger.Logger) *LedgerTransfer {
	if log == nil {
		log = logger.NewDefault("funds")
	}
	return &LedgerTransfer{log: log}
}

// Transfer records the batch. All movements land under one lock acquisition
// so a reader never observes a partially recorded settlement.
func (l *LedgerTransfer) Transfer(ctx context.Context, movements []engine.Movement) error {
	l.mu.Lock()
	for _, m := range movements {
		l.entries = append(l.entries, TransferEntry{Wallet: m.Wallet, Amount: m.Amount, Memo: m.Memo})
	}
	l.mu.Unlock()

	for _, m := range movements {
		l.log.WithField("wallet", m.Wallet).
			WithField("amount", m.Amount).
			WithField("memo", m.Memo).
			Info("funds transferred")
	}
	return nil
}

// Entries returns a copy of the recorded movements.
func (l *LedgerTransfer) Entries() []TransferEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TransferEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
