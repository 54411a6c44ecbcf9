package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
)

// BuyTickets sells quantity tickets to buyer. A raffle still SCHEDULED but
// past its start time opens on the first purchase. One ledger entry is
// appended per call with the new running cumulative total.
func (s *Service) BuyTickets(ctx context.Context, raffleID, buyer string, quantity int64) (raffle.Participant, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return raffle.Participant{}, fmt.Errorf("%w: buyer is required", ErrInvalidAddress)
	}
	if quantity <= 0 {
		return raffle.Participant{}, ErrZeroQuantity
	}

	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return raffle.Participant{}, err
	}

	switch r.Status {
	case raffle.StatusScheduled:
		if s.now().Before(r.StartTime) {
			return raffle.Participant{}, ErrRaffleNotStarted
		}
	case raffle.StatusOpened, raffle.StatusHappening:
	default:
		return raffle.Participant{}, fmt.Errorf("%w: no sales while %s", ErrWrongStatus, r.Status)
	}
	if !s.now().Before(r.EndTime) {
		return raffle.Participant{}, ErrSalesEnded
	}
	if r.TicketsSold+quantity > r.MaxTickets {
		return raffle.Participant{}, fmt.Errorf("%w: %d remaining", ErrSoldOut, r.MaxTickets-r.TicketsSold)
	}

	amount := r.TicketPrice * quantity

	p, err := s.store.GetParticipant(ctx, raffleID, buyer)
	if err != nil {
		p = raffle.Participant{RaffleID: raffleID, Address: buyer}
	}
	p.TicketCount += quantity
	p.AmountPaid += amount

	r.TicketsSold += quantity
	if r.Status == raffle.StatusScheduled {
		r.Status = raffle.StatusOpened
	}
	err = s.atomically(ctx, func(ctx context.Context) error {
		if _, err := s.store.UpsertParticipant(ctx, p); err != nil {
			return fmt.Errorf("upsert participant: %w", err)
		}
		if err := s.store.AppendEntry(ctx, raffleID, raffle.Entry{Buyer: buyer, Cumulative: r.TicketsSold}); err != nil {
			return fmt.Errorf("append entry: %w", err)
		}
		if _, err := s.store.UpdateRaffle(ctx, r); err != nil {
			return fmt.Errorf("update raffle: %w", err)
		}
		return nil
	})
	if err != nil {
		return raffle.Participant{}, err
	}

	s.log.WithField("raffle_id", raffleID).
		WithField("buyer", buyer).
		WithField("quantity", quantity).
		WithField("tickets_sold", r.TicketsSold).
		Info("tickets purchased")
	s.meters.AddTicketsSold(quantity)

	return p, nil
}
