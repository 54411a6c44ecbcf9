package engine

import "github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"

// CashAltRoundUnit is the granularity cash-alternative payouts are rounded
// down to: $100 in the smallest currency unit (cents). The rounded-off
// remainder stays in the treasury share.
const CashAltRoundUnit int64 = 10_000

// Allocation is the settlement split of a raffle's total ticket revenue.
// Treasury and CashAlternative are net of the service fee; ServiceFee holds
// both carve-outs. Every field is non-negative. For any snapshot honoring
// the creation-time ticket bounds the six fields sum to exactly
// ticketPrice x ticketsSold: no raffle creates or destroys funds.
type Allocation struct {
	Treasury        int64 `json:"treasury"`
	Charity         int64 `json:"charity"`
	LuckyRefund     int64 `json:"lucky_refund"`
	Expense         int64 `json:"expense"`
	CashAlternative int64 `json:"cash_alternative"`
	ServiceFee      int64 `json:"service_fee"`
}

// Total sums every share.
func (a Allocation) Total() int64 {
	return a.Treasury + a.Charity + a.LuckyRefund + a.Expense + a.CashAlternative + a.ServiceFee
}

// ComputeAllocation splits the raffle's revenue at settlement time.
//
// The charity and lucky-refund pools are computed against the guaranteed
// floor (ticketPrice x minTickets) over the margin base, so they are fixed
// at creation regardless of oversell. Category MONEY always pays the full
// prize value in cash; other categories pay a cash alternative only when
// payCash is set (the caller has already applied the requested-and-enabled
// rule, and sweeps always set it), as prizeValue x winnerBP / 10000 rounded
// down to CashAltRoundUnit. The expense share applies only when the prize
// itself is delivered (no cash alternative). Treasury takes the remainder,
// and the service fee is carved out of the treasury share and, when
// present, the cash alternative.
func ComputeAllocation(r raffle.Raffle, payCash bool) Allocation {
	a := r.Allocation
	revenue := r.TicketPrice * r.TicketsSold
	floor := r.TicketPrice * r.MinTickets
	base := a.MarginBase()

	var out Allocation
	out.Charity = floor * a.CharityBP / base
	out.LuckyRefund = floor * a.LuckyRefundBP / base

	cashAlt := int64(0)
	switch {
	case r.Category == raffle.CategoryMoney:
		cashAlt = r.PrizeValue
	case payCash:
		raw := r.PrizeValue * a.WinnerBP / 10_000
		cashAlt = raw / CashAltRoundUnit * CashAltRoundUnit
	default:
		out.Expense = r.PrizeValue * a.WinnerBP / 10_000
	}

	treasury := revenue - out.Charity - out.LuckyRefund - out.Expense - cashAlt
	if treasury < 0 {
		// minTickets guarantees the margin base at settlement; a negative
		// remainder is only reachable through a misconfigured snapshot, in
		// which case the shortfall comes out of the expense share. The
		// expense share itself never goes below zero: no share may reach
		// the funds port as a negative movement.
		out.Expense += treasury
		treasury = 0
		if out.Expense < 0 {
			out.Expense = 0
		}
	}

	treasuryFee := treasury * a.ServiceFeeBP / 10_000
	cashFee := cashAlt * a.ServiceFeeBP / 10_000

	out.Treasury = treasury - treasuryFee
	out.CashAlternative = cashAlt - cashFee
	out.ServiceFee = treasuryFee + cashFee
	return out
}

// LuckyRefundPool returns the fixed pool for a raffle, identical to the
// LuckyRefund share of ComputeAllocation.
func LuckyRefundPool(r raffle.Raffle) int64 {
	floor := r.TicketPrice * r.MinTickets
	return floor * r.Allocation.LuckyRefundBP / r.Allocation.MarginBase()
}
