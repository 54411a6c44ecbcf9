package randomness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/randomness"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
	"github.com/rafflehouse/raffle-engine/internal/app/storage/memory"
)

type delivery struct {
	RaffleID  string
	RequestID string
	Value     uint64
}

type consumerStub struct {
	mu         sync.Mutex
	deliveries []delivery
	err        error
}

func (c *consumerStub) HandleRandomness(_ context.Context, raffleID, requestID string, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, delivery{RaffleID: raffleID, RequestID: requestID, Value: value})
	return c.err
}

func newService(t *testing.T) (*Service, *consumerStub) {
	t.Helper()
	svc := New(memory.New(), nil)
	svc.WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	consumer := &consumerStub{}
	svc.WithConsumer(consumer)
	return svc, consumer
}

func TestRequestAndFulfill(t *testing.T) {
	svc, consumer := newService(t)
	ctx := context.Background()

	id, err := svc.Request(ctx, "raffle-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if id == "" {
		t.Fatalf("empty request id")
	}

	pending, err := svc.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id || pending[0].Status != randomness.StatusPending {
		t.Fatalf("pending: %+v", pending)
	}

	if err := svc.Fulfill(ctx, id, 42); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if len(consumer.deliveries) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(consumer.deliveries))
	}
	got := consumer.deliveries[0]
	if got.RaffleID != "raffle-1" || got.RequestID != id || got.Value != 42 {
		t.Fatalf("delivery: %+v", got)
	}

	pending, _ = svc.Pending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("fulfilled request still pending")
	}
}

func TestFulfill_SecondDeliveryRejected(t *testing.T) {
	svc, consumer := newService(t)
	ctx := context.Background()

	id, _ := svc.Request(ctx, "raffle-1")
	if err := svc.Fulfill(ctx, id, 42); err != nil {
		t.Fatalf("first fulfill: %v", err)
	}
	if err := svc.Fulfill(ctx, id, 43); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("second fulfill: want ErrAlreadyFulfilled, got %v", err)
	}
	if len(consumer.deliveries) != 1 {
		t.Fatalf("replay reached the consumer")
	}
}

func TestFulfill_UnknownRequest(t *testing.T) {
	svc, _ := newService(t)

	err := svc.Fulfill(context.Background(), "nope", 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// A consumer error does not undo the fulfillment: the request stays
// fulfilled and a retry is rejected rather than re-drawing.
func TestFulfill_ConsumerErrorDoesNotRevert(t *testing.T) {
	svc, consumer := newService(t)
	ctx := context.Background()
	consumer.err = errors.New("engine busy")

	id, _ := svc.Request(ctx, "raffle-1")
	if err := svc.Fulfill(ctx, id, 42); err == nil {
		t.Fatalf("consumer error swallowed")
	}
	if err := svc.Fulfill(ctx, id, 42); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("retry: want ErrAlreadyFulfilled, got %v", err)
	}
}
