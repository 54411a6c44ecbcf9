// Package randomness correlates asynchronous random value deliveries with
// the raffles that requested them.
package randomness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/randomness"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

var (
	ErrAlreadyFulfilled = errors.New("randomness request already fulfilled")
)

// Consumer receives fulfilled random values. The raffle engine implements
// it with winner selection.
type Consumer interface {
	HandleRandomness(ctx context.Context, raffleID, requestID string, value uint64) error
}

// Service issues randomness requests and routes fulfilled values to the
// consumer. It satisfies the engine's requester port.
type Service struct {
	store    storage.RandomnessStore
	consumer Consumer
	log      *logger.Logger

	now func() time.Time
}

// New constructs the randomness service.
func New(store storage.RandomnessStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("randomness")
	}
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithConsumer sets the delivery target for fulfilled values.
func (s *Service) WithConsumer(c Consumer) { s.consumer = c }

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Request records a pending randomness request for a raffle and returns its
// id. The value is delivered later through Fulfill.
func (s *Service) Request(ctx context.Context, raffleID string) (string, error) {
	req := randomness.Request{
		ID:        uuid.New().String(),
		RaffleID:  raffleID,
		Status:    randomness.StatusPending,
		CreatedAt: s.now(),
	}
	if _, err := s.store.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	s.log.WithField("request_id", req.ID).
		WithField("raffle_id", raffleID).
		Info("randomness requested")
	return req.ID, nil
}

// Fulfill records the delivered value and forwards it to the consumer.
// Fulfilling the same request twice is rejected, so a retried delivery
// cannot trigger a second winner selection.
func (s *Service) Fulfill(ctx context.Context, requestID string, value uint64) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == randomness.StatusFulfilled {
		return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, requestID)
	}

	req.Status = randomness.StatusFulfilled
	req.Value = value
	req.FulfilledAt = s.now()
	if _, err := s.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request: %w", err)
	}

	s.log.WithField("request_id", requestID).
		WithField("raffle_id", req.RaffleID).
		Info("randomness fulfilled")

	if s.consumer == nil {
		return nil
	}
	return s.consumer.HandleRandomness(ctx, req.RaffleID, requestID, value)
}

// Pending lists unfulfilled requests, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]randomness.Request, error) {
	return s.store.ListPendingRequests(ctx, limit)
}
