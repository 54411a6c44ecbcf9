// Package app wires the raffle services, their stores and the background
// runners into one lifecycle-managed application.
package app

import (
	"context"
	"fmt"

	appmetrics "github.com/rafflehouse/raffle-engine/internal/app/metrics"
	"github.com/rafflehouse/raffle-engine/internal/app/services/engine"
	luckysvc "github.com/rafflehouse/raffle-engine/internal/app/services/luckyrefund"
	randomsvc "github.com/rafflehouse/raffle-engine/internal/app/services/randomness"
	schedulersvc "github.com/rafflehouse/raffle-engine/internal/app/services/scheduler"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
	"github.com/rafflehouse/raffle-engine/internal/app/storage/memory"
	"github.com/rafflehouse/raffle-engine/internal/app/system"
	"github.com/rafflehouse/raffle-engine/internal/config"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Raffles      storage.RaffleStore
	LuckyRefunds storage.LuckyRefundStore
	Randomness   storage.RandomnessStore
}

// Options adjusts optional collaborators before wiring.
type Options struct {
	// Escrow is the external prize custody; nil leaves non-money prizes
	// uncustodied, which is acceptable for development.
	Escrow engine.PrizeEscrow

	// Funds overrides the settlement gateway; nil installs the recording
	// ledger.
	Funds engine.FundTransfer

	// Metrics registry collectors; nil disables instrumentation.
	Metrics *appmetrics.Metrics
}

// Application ties the raffle services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Engine      *engine.Service
	LuckyRefund *luckysvc.Service
	Randomness  *randomsvc.Service
	Scheduler   *schedulersvc.Service
	Funds       engine.FundTransfer
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Raffles == nil {
		stores.Raffles = mem
	}
	if stores.LuckyRefunds == nil {
		stores.LuckyRefunds = mem
	}
	if stores.Randomness == nil {
		stores.Randomness = mem
	}

	cfgProvider := newStaticConfig(cfg.Raffle)
	authority := newStaticAuthority(cfg.Auth)

	funds := opts.Funds
	if funds == nil {
		funds = NewLedgerTransfer(log)
	}

	engineSvc := engine.New(stores.Raffles, cfgProvider, authority, log)
	engineSvc.WithFunds(funds)
	if opts.Escrow != nil {
		engineSvc.WithEscrow(opts.Escrow)
	}
	if opts.Metrics != nil {
		engineSvc.WithMetrics(opts.Metrics)
	}

	randomSvc := randomsvc.New(stores.Randomness, log)
	randomSvc.WithConsumer(engineSvc)
	engineSvc.WithRandomness(randomSvc)

	luckySvc := luckysvc.New(stores.Raffles, stores.LuckyRefunds, cfgProvider, log)
	luckySvc.WithAuthority(authority)
	luckySvc.WithFunds(funds)
	luckySvc.WithExcluder(engineSvc)
	if opts.Metrics != nil {
		luckySvc.WithMetrics(opts.Metrics)
	}
	engineSvc.WithLuckyRefund(luckySvc)

	manager := system.NewManager()

	var schedSvc *schedulersvc.Service
	if cfg.Scheduler.Enabled {
		schedSvc = schedulersvc.New(engineSvc, luckySvc, cfg.Scheduler.Spec, log)
		if err := manager.Register(schedSvc); err != nil {
			return nil, fmt.Errorf("register scheduler: %w", err)
		}
	}

	if cfg.Randomness.DevSource {
		dev := randomsvc.NewDevSource(randomSvc, cfg.Randomness.PollInterval, log)
		if err := manager.Register(dev); err != nil {
			return nil, fmt.Errorf("register randomness source: %w", err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Engine:      engineSvc,
		LuckyRefund: luckySvc,
		Randomness:  randomSvc,
		Scheduler:   schedSvc,
		Funds:       funds,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
