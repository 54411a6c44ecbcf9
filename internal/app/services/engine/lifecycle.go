package engine

import (
	"context"
	"fmt"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
)

// Every transition below re-checks the stored status before writing. A
// duplicate trigger therefore degrades to ErrWrongStatus instead of firing
// the transition twice.

// OpenRaffle moves SCHEDULED -> OPENED once the start time is reached.
func (s *Service) OpenRaffle(ctx context.Context, id string) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status != raffle.StatusScheduled {
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, r.Status)
	}
	if s.now().Before(r.StartTime) {
		return raffle.Raffle{}, ErrRaffleNotStarted
	}

	r.Status = raffle.StatusOpened
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", id).Info("raffle opened")
	return updated, nil
}

// MarkHappening moves OPENED -> HAPPENING once minimum sales are reached.
func (s *Service) MarkHappening(ctx context.Context, id string) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status != raffle.StatusOpened {
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, r.Status)
	}
	if r.TicketsSold < r.MinTickets {
		return raffle.Raffle{}, fmt.Errorf("%w: %d of %d minimum tickets sold", ErrWrongStatus, r.TicketsSold, r.MinTickets)
	}

	r.Status = raffle.StatusHappening
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", id).Info("raffle happening")
	return updated, nil
}

// CloseRaffle moves HAPPENING -> CLOSED when sold out, or when past the end
// time with minimum sales met. Closing stamps closedTime and requests the
// random value for the draw.
func (s *Service) CloseRaffle(ctx context.Context, id string) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status != raffle.StatusHappening {
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, r.Status)
	}
	soldOut := r.TicketsSold == r.MaxTickets
	timedOut := r.TicketsSold >= r.MinTickets && !s.now().Before(r.EndTime)
	if !soldOut && !timedOut {
		return raffle.Raffle{}, fmt.Errorf("%w: close conditions not met", ErrWrongStatus)
	}

	r.Status = raffle.StatusClosed
	r.ClosedTime = s.now()
	if s.random != nil {
		reqID, err := s.random.Request(ctx, r.ID)
		if err != nil {
			return raffle.Raffle{}, fmt.Errorf("request randomness: %w", err)
		}
		r.RandomRequestID = reqID
	}

	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", id).
		WithField("tickets_sold", r.TicketsSold).
		WithField("random_request_id", r.RandomRequestID).
		Info("raffle closed, awaiting randomness")
	return updated, nil
}

// StartRefund moves OPENED -> REFUND past end time with sales under the
// minimum. With zero sales a refund ledger is pointless and the raffle goes
// straight to AUTO_ENDED.
func (s *Service) StartRefund(ctx context.Context, id string) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status != raffle.StatusOpened {
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, r.Status)
	}
	if r.TicketsSold >= r.MinTickets || s.now().Before(r.EndTime) {
		return raffle.Raffle{}, fmt.Errorf("%w: refund conditions not met", ErrWrongStatus)
	}

	if r.TicketsSold == 0 {
		return s.autoEnd(ctx, r, "no sales")
	}

	r.Status = raffle.StatusRefund
	r.RefundStartTime = s.now()
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", id).
		WithField("tickets_sold", r.TicketsSold).
		Info("raffle entered refund")
	return updated, nil
}

// AutoEnd moves CLOSED or REFUND to AUTO_ENDED once the respective claim
// window has elapsed without a claim.
func (s *Service) AutoEnd(ctx context.Context, id string) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return raffle.Raffle{}, err
	}

	switch r.Status {
	case raffle.StatusClosed:
		if s.now().Before(r.ClosedTime.Add(cfg.ClaimRewardDuration)) {
			return raffle.Raffle{}, fmt.Errorf("%w: reward claim window still open", ErrWrongStatus)
		}
		return s.autoEnd(ctx, r, "reward unclaimed")
	case raffle.StatusRefund:
		if s.now().Before(r.RefundStartTime.Add(cfg.ClaimRefundDuration)) {
			return raffle.Raffle{}, fmt.Errorf("%w: refund claim window still open", ErrWrongStatus)
		}
		return s.autoEnd(ctx, r, "refund window elapsed")
	default:
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, r.Status)
	}
}

func (s *Service) autoEnd(ctx context.Context, r raffle.Raffle, reason string) (raffle.Raffle, error) {
	r.Status = raffle.StatusAutoEnded
	r.EndedTime = s.now()
	r.NeedsReroll = false
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", r.ID).
		WithField("reason", reason).
		Info("raffle auto ended")
	s.meters.DecOpenRaffles()
	return updated, nil
}

// Pause forces any non-terminal, non-refund raffle into PAUSED. Admin only.
func (s *Service) Pause(ctx context.Context, caller, id string) (raffle.Raffle, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return raffle.Raffle{}, err
	}
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status.Terminal() || r.Status == raffle.StatusRefund || r.Status == raffle.StatusPaused {
		return raffle.Raffle{}, fmt.Errorf("%w: cannot pause %s raffle", ErrWrongStatus, r.Status)
	}

	r.PausedFrom = r.Status
	r.Status = raffle.StatusPaused
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", id).WithField("paused_from", r.PausedFrom).Warn("raffle paused")
	return updated, nil
}

// Resume moves PAUSED back into OPENED, HAPPENING or REFUND. Admin only.
func (s *Service) Resume(ctx context.Context, caller, id string, into raffle.Status) (raffle.Raffle, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return raffle.Raffle{}, err
	}
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if r.Status != raffle.StatusPaused {
		return raffle.Raffle{}, fmt.Errorf("%w: %s is %s", ErrWrongStatus, id, r.Status)
	}
	switch into {
	case raffle.StatusOpened, raffle.StatusHappening, raffle.StatusRefund:
	default:
		return raffle.Raffle{}, fmt.Errorf("%w: cannot resume into %s", ErrWrongStatus, into)
	}

	if into == raffle.StatusRefund && r.RefundStartTime.IsZero() {
		r.RefundStartTime = s.now()
	}
	r.Status = into
	r.PausedFrom = ""
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}
	s.log.WithField("raffle_id", id).WithField("status", into).Info("raffle resumed")
	return updated, nil
}

// Cancel moves SCHEDULED or PAUSED-before-opening raffles to CANCELED.
// Admin only.
func (s *Service) Cancel(ctx context.Context, caller, id string) (raffle.Raffle, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return raffle.Raffle{}, err
	}
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return raffle.Raffle{}, err
	}
	canceleable := r.Status == raffle.StatusScheduled ||
		(r.Status == raffle.StatusPaused && r.PausedFrom == raffle.StatusScheduled)
	if !canceleable {
		return raffle.Raffle{}, fmt.Errorf("%w: cannot cancel %s raffle", ErrWrongStatus, r.Status)
	}

	r.Status = raffle.StatusCanceled
	updated, err := s.store.UpdateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("update raffle: %w", err)
	}

	if s.escrow != nil && r.Category != raffle.CategoryMoney {
		if err := s.escrow.WithdrawUnclaimed(ctx, r.ID); err != nil {
			s.log.WithError(err).WithField("raffle_id", id).Warn("escrow withdraw after cancel failed")
		}
	}

	s.log.WithField("raffle_id", id).Warn("raffle canceled")
	s.meters.DecOpenRaffles()
	return updated, nil
}
