package engine

import (
	"context"
	"fmt"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
)

// Claim settles a raffle for its winner. The caller must be the stored
// winner, inside the reward claim window, and must answer the current skill
// test correctly. A wrong answer clears the winner, excludes the caller from
// redraws, restarts the claim window and flags a reroll; no funds move.
func (s *Service) Claim(ctx context.Context, raffleID, caller string, answer int64, wantCashAlt bool) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status != raffle.StatusClosed {
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, raffleID, r.Status)
	}
	if r.Winner == "" || r.Winner != caller {
		return raffle.Raffle{}, ErrNotWinner
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if !s.now().Before(r.ClosedTime.Add(cfg.ClaimRewardDuration)) {
		return raffle.Raffle{}, ErrClaimWindowElapsed
	}

	if answer != r.SkillTestAnswer {
		return s.failSkillTest(ctx, r, caller)
	}

	payCash := r.Category == raffle.CategoryMoney || (wantCashAlt && r.CashAltEnabled)
	return s.settle(ctx, r, cfg, payCash, false)
}

// failSkillTest records a wrong answer: the claimant can never be redrawn in
// this raffle and the raffle awaits a fresh random draw.
func (s *Service) failSkillTest(ctx context.Context, r raffle.Raffle, caller string) (raffle.Raffle, error) {
	p, err := s.store.GetParticipant(ctx, r.ID, caller)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("get participant: %w", err)
	}
	p.IsWinner = false
	p.SkillTestFailed = true

	r.Winner = ""
	r.Exclude(caller)
	r.NeedsReroll = true
	r.ClosedTime = s.now()
	r.SkillTestQuestion = ""
	r.SkillTestAnswer = 0

	var updated raffle.Raffle
	err = s.atomically(ctx, func(ctx context.Context) error {
		if _, err := s.store.UpsertParticipant(ctx, p); err != nil {
			return fmt.Errorf("upsert participant: %w", err)
		}
		var err error
		updated, err = s.store.UpdateRaffle(ctx, r)
		if err != nil {
			return fmt.Errorf("update raffle: %w", err)
		}
		return nil
	})
	if err != nil {
		return raffle.Raffle{}, err
	}

	s.log.WithField("raffle_id", r.ID).
		WithField("claimant", caller).
		Warn("skill test failed, winner cleared")
	return updated, fmt.Errorf("claim rejected: %w", ErrWrongAnswer)
}

// settle computes the allocation, moves every share to its wallet in one
// all-or-nothing batch, ends the raffle and, for recurring raffles, spawns
// the follow-up. The batch commits before any store write, so a failed
// settlement leaves the raffle claimable and a retry pays each share once.
func (s *Service) settle(ctx context.Context, r raffle.Raffle, cfg Config, payCash, sweep bool) (raffle.Raffle, error) {
	alloc := ComputeAllocation(r, payCash)
	cashPaid := alloc.CashAlternative > 0

	movements := []Movement{
		{Wallet: treasuryWallet(r, cfg), Amount: alloc.Treasury, Memo: "treasury:" + r.ID},
		{Wallet: charityWallet(r, cfg), Amount: alloc.Charity, Memo: "charity:" + r.ID},
		{Wallet: expenseWallet(r, cfg), Amount: alloc.Expense, Memo: "expense:" + r.ID},
		{Wallet: serviceFeeWallet(r, cfg), Amount: alloc.ServiceFee, Memo: "service-fee:" + r.ID},
	}
	switch {
	case sweep:
		// Unclaimed prize: the cash portion goes to the treasury as well.
		movements = append(movements, Movement{Wallet: treasuryWallet(r, cfg), Amount: alloc.CashAlternative, Memo: "sweep-cash:" + r.ID})
	case cashPaid:
		movements = append(movements, Movement{Wallet: r.Winner, Amount: alloc.CashAlternative, Memo: "cash-alternative:" + r.ID})
	default:
		if s.escrow != nil && r.Category != raffle.CategoryMoney {
			if err := s.escrow.Claim(ctx, r.ID); err != nil {
				return raffle.Raffle{}, fmt.Errorf("escrow claim: %w", err)
			}
		}
	}
	if err := s.transferBatch(ctx, movements); err != nil {
		return raffle.Raffle{}, fmt.Errorf("settlement transfer: %w", err)
	}

	r.ClaimedAmount = alloc.Total()
	if !sweep {
		r.Status = raffle.StatusEnded
		r.EndedTime = s.now()
	}
	var updated raffle.Raffle
	err := s.atomically(ctx, func(ctx context.Context) error {
		if !sweep && cashPaid {
			p, err := s.store.GetParticipant(ctx, r.ID, r.Winner)
			if err != nil {
				return fmt.Errorf("get participant: %w", err)
			}
			p.ClaimedCashAlt = true
			if _, err := s.store.UpsertParticipant(ctx, p); err != nil {
				return fmt.Errorf("upsert participant: %w", err)
			}
		}
		var err error
		updated, err = s.store.UpdateRaffle(ctx, r)
		if err != nil {
			return fmt.Errorf("update raffle: %w", err)
		}
		return nil
	})
	if err != nil {
		return raffle.Raffle{}, err
	}

	s.log.WithField("raffle_id", r.ID).
		WithField("winner", r.Winner).
		WithField("revenue", r.TicketPrice*r.TicketsSold).
		WithField("cash_alternative", alloc.CashAlternative).
		WithField("sweep", sweep).
		Info("raffle settled")
	s.meters.IncSettlements()
	if !sweep {
		// A sweep settles a raffle that already left the open set when it
		// auto ended.
		s.meters.DecOpenRaffles()
	}

	if !sweep && updated.Recurrent {
		if spawned, err := s.spawnRecurrence(ctx, updated); err != nil {
			s.log.WithError(err).WithField("raffle_id", r.ID).Warn("recurrence spawn failed")
		} else {
			s.log.WithField("raffle_id", r.ID).
				WithField("spawned_id", spawned.ID).
				Info("recurring raffle spawned")
		}
	}

	return updated, nil
}

// spawnRecurrence creates a fresh raffle with identical parameters linked to
// the settled raffle's lineage root. The new raffle keeps the settled one's
// allocation snapshot and starts immediately; its exclusion set is empty.
func (s *Service) spawnRecurrence(ctx context.Context, parent raffle.Raffle) (raffle.Raffle, error) {
	start := s.now()
	next := raffle.Raffle{
		AccountID:      parent.AccountID,
		Category:       parent.Category,
		PrizeName:      parent.PrizeName,
		PrizeValue:     parent.PrizeValue,
		TicketPrice:    parent.TicketPrice,
		MinTickets:     parent.MinTickets,
		MaxTickets:     parent.MaxTickets,
		StartTime:      start,
		Duration:       parent.Duration,
		EndTime:        start.Add(parent.Duration),
		Status:         raffle.StatusScheduled,
		Recurrent:      true,
		CashAltEnabled: parent.CashAltEnabled,
		Wallets:        parent.Wallets,
		Allocation:     parent.Allocation,
		OriginRaffleID: parent.OriginRaffleID,
		Descendant:     true,
	}
	created, err := s.store.CreateRaffle(ctx, next)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("create recurrence: %w", err)
	}
	s.meters.IncRafflesCreated()
	return created, nil
}

// ClaimRefund returns ticketCount x ticketPrice to a participant of a
// REFUND raffle, exactly once, inside the refund claim window.
func (s *Service) ClaimRefund(ctx context.Context, raffleID, caller string) (int64, error) {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	if r.Status != raffle.StatusRefund {
		return 0, fmt.Errorf("%w: %s is %s", ErrWrongStatus, raffleID, r.Status)
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return 0, err
	}
	if !s.now().Before(r.RefundStartTime.Add(cfg.ClaimRefundDuration)) {
		return 0, ErrClaimWindowElapsed
	}

	p, err := s.store.GetParticipant(ctx, raffleID, caller)
	if err != nil {
		return 0, fmt.Errorf("get participant: %w", err)
	}
	if p.ClaimedRefund {
		return 0, ErrAlreadyClaimed
	}

	amount := p.TicketCount * r.TicketPrice
	if err := s.transfer(ctx, caller, amount, "refund:"+raffleID); err != nil {
		return 0, fmt.Errorf("refund transfer: %w", err)
	}

	p.ClaimedRefund = true
	r.RefundedAmount += amount
	err = s.atomically(ctx, func(ctx context.Context) error {
		if _, err := s.store.UpsertParticipant(ctx, p); err != nil {
			return fmt.Errorf("upsert participant: %w", err)
		}
		if _, err := s.store.UpdateRaffle(ctx, r); err != nil {
			return fmt.Errorf("update raffle: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.WithField("raffle_id", raffleID).
		WithField("participant", caller).
		WithField("amount", amount).
		Info("refund claimed")
	s.meters.IncRefundsClaimed()

	return amount, nil
}

// SweepUnclaimed moves the remaining funds of an AUTO_ENDED raffle to the
// treasury. Admin only, once per raffle. A raffle that auto-ended through
// the refund branch sweeps the unclaimed refund balance minus the service
// fee; one that auto-ended with an unclaimed prize sweeps the full
// settlement allocation, treated as a cash-alternative claim.
func (s *Service) SweepUnclaimed(ctx context.Context, caller, raffleID string) error {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	if r.Status != raffle.StatusAutoEnded {
		return fmt.Errorf("%w: %s is %s", ErrWrongStatus, raffleID, r.Status)
	}
	if r.ClaimedAmount > 0 {
		return ErrAlreadySwept
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}

	if !r.RefundStartTime.IsZero() {
		// Refund branch: sweep what participants never claimed.
		remainder := r.TicketPrice*r.TicketsSold - r.RefundedAmount
		fee := remainder * r.Allocation.ServiceFeeBP / 10_000
		err := s.transferBatch(ctx, []Movement{
			{Wallet: serviceFeeWallet(r, cfg), Amount: fee, Memo: "sweep-fee:" + raffleID},
			{Wallet: treasuryWallet(r, cfg), Amount: remainder - fee, Memo: "sweep-refunds:" + raffleID},
		})
		if err != nil {
			return fmt.Errorf("sweep transfer: %w", err)
		}
		r.ClaimedAmount = remainder
		if _, err := s.store.UpdateRaffle(ctx, r); err != nil {
			return fmt.Errorf("update raffle: %w", err)
		}
		s.log.WithField("raffle_id", raffleID).
			WithField("amount", remainder).
			Info("unclaimed refunds swept")
		return nil
	}

	if r.TicketsSold == 0 {
		return fmt.Errorf("%w: nothing to sweep", ErrWrongStatus)
	}

	if s.escrow != nil && r.Category != raffle.CategoryMoney {
		if err := s.escrow.WithdrawUnclaimed(ctx, raffleID); err != nil {
			return fmt.Errorf("escrow withdraw: %w", err)
		}
	}
	if _, err := s.settle(ctx, r, cfg, true, true); err != nil {
		return err
	}
	s.log.WithField("raffle_id", raffleID).Info("unclaimed prize swept")
	return nil
}
