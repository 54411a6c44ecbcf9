package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
)

// PickEntry maps a random value onto the cumulative entries ledger. The
// ledger partitions [1, ticketsSold] into contiguous ranges sized by each
// purchase, so picking the first entry whose cumulative count covers the
// winning number is a draw weighted by tickets bought. Deterministic for a
// given (randomValue, entries) pair.
func PickEntry(randomValue uint64, ticketsSold int64, entries []raffle.Entry) (raffle.Entry, error) {
	if ticketsSold <= 0 || len(entries) == 0 {
		return raffle.Entry{}, ErrNoParticipants
	}
	winningNumber := int64(randomValue%uint64(ticketsSold)) + 1
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Cumulative >= winningNumber
	})
	if i == len(entries) {
		return raffle.Entry{}, fmt.Errorf("ledger does not cover winning number %d", winningNumber)
	}
	return entries[i], nil
}

// HandleRandomness receives a fulfilled random value for a raffle. Requests
// not matching the raffle's pending request id are stale (the raffle moved
// on, typically via a reroll) and are ignored.
func (s *Service) HandleRandomness(ctx context.Context, raffleID, requestID string, value uint64) error {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	if r.Status != raffle.StatusClosed {
		return fmt.Errorf("%w: %s is %s", ErrWrongStatus, raffleID, r.Status)
	}
	if r.RandomRequestID != requestID {
		return ErrStaleRandomness
	}
	if r.Winner != "" {
		return ErrWinnerAlreadySet
	}
	return s.selectWinner(ctx, r, value)
}

// selectWinner runs one weighted draw. An excluded candidate fails the round
// and flags the raffle for a reroll; success fixes the winner, generates the
// skill test from the same randomness, and activates the lucky refund pool.
func (s *Service) selectWinner(ctx context.Context, r raffle.Raffle, value uint64) error {
	entries, err := s.store.ListEntries(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	entry, err := PickEntry(value, r.TicketsSold, entries)
	if err != nil {
		return err
	}

	if r.IsExcluded(entry.Buyer) {
		r.NeedsReroll = true
		r.RandomRequestID = ""
		if _, err := s.store.UpdateRaffle(ctx, r); err != nil {
			return fmt.Errorf("update raffle: %w", err)
		}
		s.log.WithField("raffle_id", r.ID).
			WithField("candidate", entry.Buyer).
			Warn("excluded candidate drawn, raffle flagged for reroll")
		return nil
	}

	p, err := s.store.GetParticipant(ctx, r.ID, entry.Buyer)
	if err != nil {
		return fmt.Errorf("get participant: %w", err)
	}
	p.IsWinner = true

	r.Winner = entry.Buyer
	r.RandomValue = value
	r.RandomRequestID = ""
	r.NeedsReroll = false
	r.SkillTestQuestion, r.SkillTestAnswer = GenerateSkillTest(value)

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
		return err
	}

	if s.lucky != nil {
		if err := s.lucky.Activate(ctx, r.ID); err != nil {
			return fmt.Errorf("activate lucky refund: %w", err)
		}
	}

	s.log.WithField("raffle_id", r.ID).
		WithField("winner", r.Winner).
		Info("winner selected")
	return nil
}

// ProcessReroll issues a fresh randomness request for a raffle flagged
// needs-reroll. Once the configured attempt budget is spent the raffle is
// forced to AUTO_ENDED: exclusions can make success unreachable.
func (s *Service) ProcessReroll(ctx context.Context, id string) error {
	r, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != raffle.StatusClosed || !r.NeedsReroll {
		return fmt.Errorf("%w: %s not awaiting reroll", ErrWrongStatus, id)
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}

	if r.RerollAttempts >= cfg.MaxRerollAttempts {
		s.log.WithField("raffle_id", id).
			WithField("attempts", r.RerollAttempts).
			Warn("reroll attempts exhausted")
		_, err := s.autoEnd(ctx, r, "reroll attempts exhausted")
		return err
	}

	r.RerollAttempts++
	r.NeedsReroll = false
	if s.random != nil {
		reqID, err := s.random.Request(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("request randomness: %w", err)
		}
		r.RandomRequestID = reqID
	}
	if _, err := s.store.UpdateRaffle(ctx, r); err != nil {
		return fmt.Errorf("update raffle: %w", err)
	}

	s.log.WithField("raffle_id", id).
		WithField("attempt", r.RerollAttempts).
		Info("reroll requested")
	s.meters.IncRerolls()
	return nil
}

// ExcludeFromDraw bars an address from future winner selection in this
// raffle. Called by the lucky refund ledger when a participant claims a
// refund. Exclusions are keyed per raffle id; a recurring raffle spawned
// later starts with an empty set.
func (s *Service) ExcludeFromDraw(ctx context.Context, raffleID, address string) error {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	if r.IsExcluded(address) {
		return nil
	}
	r.Exclude(address)
	_, err = s.store.UpdateRaffle(ctx, r)
	return err
}
