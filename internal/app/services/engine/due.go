package engine

import (
	"context"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
)

// Due queries are the read-only half of the scheduler contract: each scans
// one status index, applies the transition guard, and returns at most limit
// raffle ids. The scheduler submits the ids back through the corresponding
// transition call.

// DefaultBatchLimit caps a due query when the caller passes no limit.
const DefaultBatchLimit = 50

func capLimit(limit int) int {
	if limit <= 0 || limit > DefaultBatchLimit {
		return DefaultBatchLimit
	}
	return limit
}

// DueOpen lists SCHEDULED raffles whose start time has been reached.
func (s *Service) DueOpen(ctx context.Context, limit int) ([]string, error) {
	return s.dueFromStatus(ctx, raffle.StatusScheduled, limit, func(r raffle.Raffle) bool {
		return !s.now().Before(r.StartTime)
	})
}

// DueHappening lists OPENED raffles that reached minimum sales.
func (s *Service) DueHappening(ctx context.Context, limit int) ([]string, error) {
	return s.dueFromStatus(ctx, raffle.StatusOpened, limit, func(r raffle.Raffle) bool {
		return r.TicketsSold >= r.MinTickets
	})
}

// DueClose lists HAPPENING raffles eligible for closing.
func (s *Service) DueClose(ctx context.Context, limit int) ([]string, error) {
	return s.dueFromStatus(ctx, raffle.StatusHappening, limit, func(r raffle.Raffle) bool {
		return r.TicketsSold == r.MaxTickets ||
			(r.TicketsSold >= r.MinTickets && !s.now().Before(r.EndTime))
	})
}

// DueRefund lists OPENED raffles past end time with sales under the minimum.
func (s *Service) DueRefund(ctx context.Context, limit int) ([]string, error) {
	return s.dueFromStatus(ctx, raffle.StatusOpened, limit, func(r raffle.Raffle) bool {
		return r.TicketsSold < r.MinTickets && !s.now().Before(r.EndTime)
	})
}

// DueAutoEnd lists CLOSED and REFUND raffles whose claim window elapsed.
func (s *Service) DueAutoEnd(ctx context.Context, limit int) ([]string, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	limit = capLimit(limit)

	ids, err := s.dueFromStatus(ctx, raffle.StatusClosed, limit, func(r raffle.Raffle) bool {
		return !s.now().Before(r.ClosedTime.Add(cfg.ClaimRewardDuration))
	})
	if err != nil {
		return nil, err
	}
	if len(ids) >= limit {
		return ids[:limit], nil
	}
	more, err := s.dueFromStatus(ctx, raffle.StatusRefund, limit-len(ids), func(r raffle.Raffle) bool {
		return !s.now().Before(r.RefundStartTime.Add(cfg.ClaimRefundDuration))
	})
	if err != nil {
		return nil, err
	}
	return append(ids, more...), nil
}

// DueReroll lists raffles flagged for a fresh winner draw.
func (s *Service) DueReroll(ctx context.Context, limit int) ([]string, error) {
	raffles, err := s.store.ListNeedingReroll(ctx, capLimit(limit))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raffles))
	for _, r := range raffles {
		if r.Status == raffle.StatusClosed {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *Service) dueFromStatus(ctx context.Context, status raffle.Status, limit int, eligible func(raffle.Raffle) bool) ([]string, error) {
	limit = capLimit(limit)
	raffles, err := s.store.ListByStatus(ctx, status, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for _, r := range raffles {
		if !eligible(r) {
			continue
		}
		ids = append(ids, r.ID)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}
