// Package raffle defines the core raffle marketplace records.
package raffle

import "time"

// Status is the lifecycle state of a raffle.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOpened    Status = "opened"
	StatusHappening Status = "happening"
	StatusClosed    Status = "closed"
	StatusEnded     Status = "ended"
	StatusRefund    Status = "refund"
	StatusAutoEnded Status = "auto_ended"
	StatusPaused    Status = "paused"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusAutoEnded || s == StatusCanceled
}

// AllStatuses lists every valid status, used by stores to build indexes.
var AllStatuses = []Status{
	StatusScheduled, StatusOpened, StatusHappening, StatusClosed,
	StatusEnded, StatusRefund, StatusAutoEnded, StatusPaused, StatusCanceled,
}

// Category describes the kind of prize a raffle offers.
type Category string

const (
	CategoryPhysical   Category = "physical"
	CategoryDigital    Category = "digital"
	CategoryExperience Category = "experience"
	CategoryMoney      Category = "money"
)

// Valid reports whether the category is one of the supported kinds.
func (c Category) Valid() bool {
	switch c {
	case CategoryPhysical, CategoryDigital, CategoryExperience, CategoryMoney:
		return true
	}
	return false
}

// AllocationSnapshot freezes the allocation percentages, in basis points out
// of 10,000, at raffle creation time. Later configuration changes never
// affect a raffle that is already open.
type AllocationSnapshot struct {
	WinnerBP      int64 `json:"winner_bp"`       // cash alternative share of prize value
	TreasuryBP    int64 `json:"treasury_bp"`     // margin share kept by the treasury
	CharityBP     int64 `json:"charity_bp"`      // margin share donated
	LuckyRefundBP int64 `json:"lucky_refund_bp"` // margin share returned to non-winners
	MaxMarginBP   int64 `json:"max_margin_bp"`   // oversell ceiling above prize value
	ServiceFeeBP  int64 `json:"service_fee_bp"`  // fee carved out of treasury and cash payouts
}

// MarginBase is the denominator the charity and lucky-refund pools are
// computed against: the full ticket revenue share plus all margin shares.
func (a AllocationSnapshot) MarginBase() int64 {
	return 10_000 + a.CharityBP + a.LuckyRefundBP + a.TreasuryBP
}

// WalletOverrides carries per-raffle destination wallets. Empty fields fall
// back to the global configuration.
type WalletOverrides struct {
	Treasury   string `json:"treasury,omitempty"`
	Charity    string `json:"charity,omitempty"`
	Expense    string `json:"expense,omitempty"`
	ServiceFee string `json:"service_fee,omitempty"`
}

// Raffle is a single prize raffle and its full lifecycle state.
type Raffle struct {
	ID        string   `json:"id"`
	AccountID string   `json:"account_id"` // operator that created the raffle
	Category  Category `json:"category"`
	PrizeName string   `json:"prize_name"`
	// PrizeValue is the declared prize value in the smallest currency unit.
	PrizeValue  int64 `json:"prize_value"`
	TicketPrice int64 `json:"ticket_price"`
	MinTickets  int64 `json:"min_tickets"`
	MaxTickets  int64 `json:"max_tickets"`
	TicketsSold int64 `json:"tickets_sold"`

	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	EndTime         time.Time     `json:"end_time"`
	ClosedTime      time.Time     `json:"closed_time,omitempty"`
	EndedTime       time.Time     `json:"ended_time,omitempty"`
	RefundStartTime time.Time     `json:"refund_start_time,omitempty"`

	Status Status `json:"status"`
	// PausedFrom remembers the status a paused raffle resumes into.
	PausedFrom Status `json:"paused_from,omitempty"`

	Winner         string `json:"winner,omitempty"`
	Recurrent      bool   `json:"recurrent"`
	CashAltEnabled bool   `json:"cash_alt_enabled"`

	Wallets    WalletOverrides    `json:"wallets"`
	Allocation AllocationSnapshot `json:"allocation"`

	ClaimedAmount  int64 `json:"claimed_amount"`
	RefundedAmount int64 `json:"refunded_amount"`

	// Lineage for recurring raffles: the root raffle id of the chain and
	// whether this raffle was spawned by a settlement.
	OriginRaffleID string `json:"origin_raffle_id,omitempty"`
	Descendant     bool   `json:"descendant"`

	// Draw state.
	RandomRequestID string `json:"random_request_id,omitempty"`
	RandomValue     uint64 `json:"random_value,omitempty"`
	NeedsReroll     bool   `json:"needs_reroll"`
	RerollAttempts  int    `json:"reroll_attempts"`

	// Excluded holds addresses that can never (re)win this raffle: failed
	// skill-test claimants and lucky-refund claimants.
	Excluded map[string]bool `json:"excluded,omitempty"`

	// Current skill test. The answer is never serialized to clients.
	SkillTestQuestion string `json:"skill_test_question,omitempty"`
	SkillTestAnswer   int64  `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExcluded reports whether addr is barred from winner selection.
func (r *Raffle) IsExcluded(addr string) bool {
	return r.Excluded[addr]
}

// Exclude adds addr to the raffle's exclusion set.
func (r *Raffle) Exclude(addr string) {
	if r.Excluded == nil {
		r.Excluded = make(map[string]bool)
	}
	r.Excluded[addr] = true
}

// Participant is the per-raffle record of one buyer address.
type Participant struct {
	RaffleID    string `json:"raffle_id"`
	Address     string `json:"address"`
	TicketCount int64  `json:"ticket_count"`
	AmountPaid  int64  `json:"amount_paid"`

	IsWinner        bool `json:"is_winner"`
	SkillTestFailed bool `json:"skill_test_failed"`
	ClaimedCashAlt  bool `json:"claimed_cash_alt"`
	ClaimedRefund   bool `json:"claimed_refund"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is one append-only ledger row: a purchase and the cumulative ticket
// count after it. The ledger partitions [1, ticketsSold] into contiguous
// ranges sized by each purchase, which makes winner selection a weighted
// draw.
type Entry struct {
	Buyer      string `json:"buyer"`
	Cumulative int64  `json:"cumulative"`
}

// Stats aggregates raffle activity for one operator account.
type Stats struct {
	TotalRaffles   int64 `json:"total_raffles"`
	OpenRaffles    int64 `json:"open_raffles"`
	TicketsSold    int64 `json:"tickets_sold"`
	AmountSettled  int64 `json:"amount_settled"`
	AmountRefunded int64 `json:"amount_refunded"`
}
