// Package scheduler drives time-based raffle transitions on a cron cadence.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rafflehouse/raffle-engine/internal/app/services/engine"
	"github.com/rafflehouse/raffle-engine/internal/app/services/luckyrefund"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// RaffleBatchLimit caps how many raffles one trigger run touches per
// category, and UserBatchLimit caps sampler draws per raffle per run. Work
// beyond the caps is picked up by the next tick.
const (
	RaffleBatchLimit = 50
	UserBatchLimit   = 80
)

// Service runs the periodic trigger. One tick scans every due category,
// applies transitions, and runs pending lucky refund sampling.
type Service struct {
	engine *engine.Service
	lucky  *luckyrefund.Service
	spec   string
	log    *logger.Logger

	cron  *cron.Cron
	runID cron.EntryID

	mu      sync.Mutex
	runs    int64
	lastRun time.Time
}

// Status reports scheduler activity for the operations API.
type Status struct {
	Spec    string    `json:"spec"`
	Runs    int64     `json:"runs"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// Status returns the cadence spec and trigger run counters.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Spec: s.spec, Runs: s.runs, LastRun: s.lastRun}
}

// New constructs the scheduler with a cron spec like "@every 30s".
func New(eng *engine.Service, lucky *luckyrefund.Service, spec string, log *logger.Logger) *Service {
	if spec == "" {
		spec = "@every 30s"
	}
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Service{
		engine: eng,
		lucky:  lucky,
		spec:   spec,
		log:    log,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Name implements the managed service contract.
func (s *Service) Name() string { return "scheduler" }

// Start registers and launches the trigger schedule.
func (s *Service) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(normalizeSpec(s.spec), func() {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.RunOnce(runCtx)
	})
	if err != nil {
		return err
	}
	s.runID = id
	s.cron.Start()
	s.log.WithField("spec", s.spec).Info("scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *Service) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// normalizeSpec maps descriptor specs through unchanged and prefixes plain
// five-field specs with a seconds column, since the runner parses six
// fields.
func normalizeSpec(spec string) string {
	if len(spec) > 0 && spec[0] == '@' {
		return spec
	}
	fields := 1
	for i := 0; i < len(spec); i++ {
		if spec[i] == ' ' {
			fields++
		}
	}
	if fields == 5 {
		return "0 " + spec
	}
	return spec
}

// RunOnce executes a single trigger pass over every due category. Each
// transition failure is logged and skipped so one bad raffle cannot stall
// the rest of the batch.
func (s *Service) RunOnce(ctx context.Context) {
	s.mu.Lock()
	s.runs++
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()

	s.runCategory(ctx, "open", s.engine.DueOpen, func(ctx context.Context, id string) error {
		_, err := s.engine.OpenRaffle(ctx, id)
		return err
	})
	s.runCategory(ctx, "happening", s.engine.DueHappening, func(ctx context.Context, id string) error {
		_, err := s.engine.MarkHappening(ctx, id)
		return err
	})
	s.runCategory(ctx, "close", s.engine.DueClose, func(ctx context.Context, id string) error {
		_, err := s.engine.CloseRaffle(ctx, id)
		return err
	})
	s.runCategory(ctx, "refund", s.engine.DueRefund, func(ctx context.Context, id string) error {
		_, err := s.engine.StartRefund(ctx, id)
		return err
	})
	s.runCategory(ctx, "auto-end", s.engine.DueAutoEnd, func(ctx context.Context, id string) error {
		_, err := s.engine.AutoEnd(ctx, id)
		return err
	})
	s.runCategory(ctx, "reroll", s.engine.DueReroll, s.engine.ProcessReroll)

	if s.lucky != nil {
		s.runCategory(ctx, "lucky-refund-sampling", s.lucky.DueSampling, func(ctx context.Context, id string) error {
			_, err := s.lucky.RunBatch(ctx, id, UserBatchLimit)
			return err
		})
	}
}

func (s *Service) runCategory(ctx context.Context, name string, due func(context.Context, int) ([]string, error), apply func(context.Context, string) error) {
	ids, err := due(ctx, RaffleBatchLimit)
	if err != nil {
		s.log.WithError(err).WithField("category", name).Error("due scan failed")
		return
	}
	if len(ids) == 0 {
		return
	}
	applied := 0
	for _, id := range ids {
		if err := apply(ctx, id); err != nil {
			s.log.WithError(err).
				WithField("category", name).
				WithField("raffle_id", id).
				Warn("transition failed")
			continue
		}
		applied++
	}
	s.log.WithField("category", name).
		WithField("due", len(ids)).
		WithField("applied", applied).
		Info("trigger batch processed")
}
