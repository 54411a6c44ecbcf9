package randomness

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// DevSource fulfills pending randomness requests from the operating system
// entropy pool on a short poll loop. It stands in for an external beacon in
// development and tests, and runs as a managed service.
type DevSource struct {
	svc      *Service
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDevSource builds a local randomness fulfiller polling at interval.
func NewDevSource(svc *Service, interval time.Duration, log *logger.Logger) *DevSource {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.NewDefault("randomness-dev")
	}
	return &DevSource{svc: svc, interval: interval, log: log}
}

// Name implements the managed service contract.
func (d *DevSource) Name() string { return "randomness-dev-source" }

// Start launches the poll loop.
func (d *DevSource) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(loopCtx)
	d.log.WithField("interval", d.interval.String()).Info("dev randomness source started")
	return nil
}

// Stop terminates the poll loop and waits for it to drain.
func (d *DevSource) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (d *DevSource) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.fulfillPending(ctx)
		}
	}
}

func (d *DevSource) fulfillPending(ctx context.Context) {
	pending, err := d.svc.Pending(ctx, 50)
	if err != nil {
		d.log.WithError(err).Error("list pending randomness requests")
		return
	}
	for _, req := range pending {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			d.log.WithError(err).Error("read entropy")
			return
		}
		value := binary.BigEndian.Uint64(buf[:])
		if err := d.svc.Fulfill(ctx, req.ID, value); err != nil {
			d.log.WithError(err).
				WithField("request_id", req.ID).
				Error("fulfill randomness request")
		}
	}
}
