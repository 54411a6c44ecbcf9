package engine

import (
	"context"
	"time"
)

// Config is the read-only snapshot the engine consumes from the platform
// configuration provider. Allocation percentages are basis points out of
// 10,000.
type Config struct {
	TreasuryWallet   string
	CharityWallet    string
	ExpenseWallet    string
	ServiceFeeWallet string

	WinnerBP      int64
	TreasuryBP    int64
	CharityBP     int64
	LuckyRefundBP int64
	MaxMarginBP   int64
	ServiceFeeBP  int64

	ClaimRewardDuration      time.Duration
	ClaimRefundDuration      time.Duration
	ClaimLuckyRefundDuration time.Duration

	MaxRerollAttempts int
}

// ConfigProvider supplies the current platform configuration. The engine
// snapshots allocation percentages onto each raffle at creation time and
// reads durations live.
type ConfigProvider interface {
	Snapshot(ctx context.Context) (Config, error)
}

// AuthorityProvider gates owner-only and admin-only operations.
type AuthorityProvider interface {
	Owner(ctx context.Context) (string, error)
	IsAdmin(ctx context.Context, address string) (bool, error)
}

// RandomnessRequester issues an asynchronous randomness request correlated
// to a raffle. The value arrives later through Service.HandleRandomness.
type RandomnessRequester interface {
	Request(ctx context.Context, raffleID string) (requestID string, err error)
}

// PrizeEscrow is the external prize custody for non-money categories.
type PrizeEscrow interface {
	Deposit(ctx context.Context, raffleID, tokenKind, tokenAddress string, amountOrID int64) error
	Claim(ctx context.Context, raffleID string) error
	WithdrawUnclaimed(ctx context.Context, raffleID string) error
}

// Movement is one wallet credit within a settlement.
type Movement struct {
	Wallet string
	Amount int64
	Memo   string
}

// FundTransfer moves settled cash amounts to stakeholder wallets and
// participants. A call commits every movement or none, so a settlement
// retried after a failure never pays a share twice. Implementations live
// outside the engine; tests use a recording fake.
type FundTransfer interface {
	Transfer(ctx context.Context, movements []Movement) error
}

// RefundActivator is the narrow capability the engine holds on the lucky
// refund ledger: activating (or reconciling) a raffle's pool once a winner
// is fixed. Passing this instead of the full ledger avoids an ownership
// cycle between the two services.
type RefundActivator interface {
	Activate(ctx context.Context, raffleID string) error
}
