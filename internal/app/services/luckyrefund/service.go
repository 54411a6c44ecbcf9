// Package luckyrefund implements the guaranteed-margin refund ledger and
// its batched, weighted sampler.
package luckyrefund

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/luckyrefund"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/metrics"
	"github.com/rafflehouse/raffle-engine/internal/app/services/engine"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
	"github.com/rafflehouse/raffle-engine/pkg/logger"
)

// DefaultBatchCap bounds sampler draws per invocation so no single call can
// be forced into unbounded work.
const DefaultBatchCap = 80

var (
	ErrNothingAssigned    = errors.New("no lucky refund assigned to this address")
	ErrAlreadyClaimed     = errors.New("lucky refund already claimed")
	ErrClaimWindowElapsed = errors.New("lucky refund claim window has elapsed")
	ErrClaimNotOpen       = errors.New("raffle has not reached a claimable state")
	ErrBatchTotalMismatch = errors.New("batch assignments exceed declared total")
)

// Excluder is the narrow capability this service holds on the raffle
// engine: barring a claimant from being redrawn as winner. Holding only the
// callback contract instead of the engine avoids an ownership cycle.
type Excluder interface {
	ExcludeFromDraw(ctx context.Context, raffleID, address string) error
}

// Service owns the per-raffle lucky refund records. Raffle and participant
// data is read from the shared store by reference, never duplicated.
type Service struct {
	raffles storage.RaffleStore
	records storage.LuckyRefundStore
	cfg     engine.ConfigProvider
	auth    engine.AuthorityProvider
	funds   engine.FundTransfer
	exclude Excluder
	meters  *metrics.Metrics
	log     *logger.Logger

	now func() time.Time
}

// New constructs the lucky refund service.
func New(raffles storage.RaffleStore, records storage.LuckyRefundStore, cfg engine.ConfigProvider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("luckyrefund")
	}
	return &Service{
		raffles: raffles,
		records: records,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithAuthority sets the admin gate used by Sweep.
func (s *Service) WithAuthority(a engine.AuthorityProvider) { s.auth = a }

// WithFunds sets the cash settlement collaborator.
func (s *Service) WithFunds(f engine.FundTransfer) { s.funds = f }

// WithExcluder sets the engine callback for claim-time exclusions.
func (s *Service) WithExcluder(e Excluder) { s.exclude = e }

// WithMetrics attaches collectors.
func (s *Service) WithMetrics(m *metrics.Metrics) { s.meters = m }

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Activate fixes the lucky refund pool for a raffle whose winner was just
// finalized. Idempotent: a second activation (after a reroll settled on a
// new winner) reconciles the exclusion set instead of re-creating the
// record.
func (s *Service) Activate(ctx context.Context, raffleID string) error {
	r, err := s.raffles.GetRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	if r.Winner == "" {
		return fmt.Errorf("raffle %s has no winner", raffleID)
	}

	excluded := map[string]bool{r.Winner: true}
	participants, err := s.raffles.ListParticipants(ctx, raffleID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if p.ClaimedCashAlt {
			excluded[p.Address] = true
		}
	}

	if rec, err := s.records.GetRecord(ctx, raffleID); err == nil {
		rec.Excluded = excluded
		if _, err := s.records.UpdateRecord(ctx, rec); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		return nil
	}

	rec := luckyrefund.Record{
		RaffleID:        raffleID,
		Pool:            engine.LuckyRefundPool(r),
		SelectedIndexes: make(map[int64]bool),
		AssignedTo:      make(map[string]int64),
		ClaimedBy:       make(map[string]bool),
		Excluded:        excluded,
		ChainSeed:       initialSeed(raffleID, r.RandomValue),
	}
	if rec.Pool <= 0 {
		rec.SamplingDone = true
	}
	if _, err := s.records.CreateRecord(ctx, rec); err != nil {
		return fmt.Errorf("create record: %w", err)
	}

	s.log.WithField("raffle_id", raffleID).
		WithField("pool", rec.Pool).
		Info("lucky refund pool activated")
	return nil
}

func initialSeed(raffleID string, randomValue uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], randomValue)
	sum := sha256.Sum256(append([]byte(raffleID), buf[:]...))
	return sum[:]
}

// nextDraw advances the randomness chain: the previous link re-hashed with
// the current time. The stored chain is the durable checkpoint that makes
// batch resumption deterministic against double-processing.
func (s *Service) nextDraw(seed []byte, universe int64) ([]byte, int64) {
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], uint64(s.now().UnixNano()))
	sum := sha256.Sum256(append(seed, t[:]...))
	idx := int64(binary.BigEndian.Uint64(sum[:8]) % uint64(universe))
	return sum[:], idx
}

// RunBatch draws up to maxDraws unselected participants without
// replacement, weighted by their ticket spend: each selected participant is
// assigned min(total spend, remaining pool). The whole batch commits
// atomically in one record update, and the assignments never exceed the
// declared batch total.
func (s *Service) RunBatch(ctx context.Context, raffleID string, maxDraws int) (luckyrefund.BatchResult, error) {
	if maxDraws <= 0 || maxDraws > DefaultBatchCap {
		maxDraws = DefaultBatchCap
	}

	rec, err := s.records.GetRecord(ctx, raffleID)
	if err != nil {
		return luckyrefund.BatchResult{}, err
	}
	result := luckyrefund.BatchResult{RaffleID: raffleID}
	if rec.SamplingDone {
		result.Done = true
		return result, nil
	}

	participants, err := s.raffles.ListParticipants(ctx, raffleID)
	if err != nil {
		return luckyrefund.BatchResult{}, fmt.Errorf("list participants: %w", err)
	}
	universe := int64(len(participants))
	if universe == 0 {
		rec.SamplingDone = true
		if _, err := s.records.UpdateRecord(ctx, rec); err != nil {
			return luckyrefund.BatchResult{}, fmt.Errorf("update record: %w", err)
		}
		result.Done = true
		return result, nil
	}

	batchTotal := rec.Remaining()
	seed := rec.ChainSeed

	for draws := 0; draws < maxDraws; draws++ {
		if rec.Remaining() <= 0 || int64(len(rec.SelectedIndexes)) >= universe {
			break
		}

		var idx int64
		seed, idx = s.nextDraw(seed, universe)
		if rec.SelectedIndexes[idx] {
			continue
		}
		rec.SelectedIndexes[idx] = true

		p := participants[idx]
		if rec.Excluded[p.Address] {
			continue
		}

		amount := p.AmountPaid
		if remaining := rec.Remaining(); amount > remaining {
			amount = remaining
		}
		if amount <= 0 {
			continue
		}

		rec.AssignedTo[p.Address] += amount
		rec.Assigned += amount
		result.Assignments = append(result.Assignments, luckyrefund.Assignment{
			Address: p.Address,
			Index:   idx,
			Amount:  amount,
		})
		result.BatchTotal += amount
	}

	if result.BatchTotal > batchTotal {
		return luckyrefund.BatchResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTotalMismatch, result.BatchTotal, batchTotal)
	}

	rec.ChainSeed = seed
	if rec.Remaining() <= 0 || int64(len(rec.SelectedIndexes)) >= universe {
		rec.SamplingDone = true
		result.Done = true
	}
	if _, err := s.records.UpdateRecord(ctx, rec); err != nil {
		return luckyrefund.BatchResult{}, fmt.Errorf("commit batch: %w", err)
	}

	s.log.WithField("raffle_id", raffleID).
		WithField("assignments", len(result.Assignments)).
		WithField("batch_total", result.BatchTotal).
		WithField("assigned", rec.Assigned).
		WithField("pool", rec.Pool).
		Info("lucky refund batch committed")
	s.meters.AddLuckyRefundAssigned(result.BatchTotal)

	return result, nil
}

// DueSampling lists raffle ids whose pool still has amounts to assign.
func (s *Service) DueSampling(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = engine.DefaultBatchLimit
	}
	return s.records.ListSamplingDue(ctx, limit)
}

// GetRecord returns the ledger record for a raffle.
func (s *Service) GetRecord(ctx context.Context, raffleID string) (luckyrefund.Record, error) {
	return s.records.GetRecord(ctx, raffleID)
}

// Claim pays out a participant's assigned amount exactly once, while the
// raffle is closed-or-later and inside the lucky refund claim window. The
// claimant is reported to the engine so a later redraw can never select
// them.
func (s *Service) Claim(ctx context.Context, raffleID, caller string) (int64, error) {
	r, err := s.raffles.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	switch r.Status {
	case raffle.StatusClosed, raffle.StatusEnded, raffle.StatusAutoEnded:
	default:
		return 0, fmt.Errorf("%w: raffle is %s", ErrClaimNotOpen, r.Status)
	}
	cfg, err := s.cfg.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("config snapshot: %w", err)
	}
	if !r.EndedTime.IsZero() && !s.now().Before(r.EndedTime.Add(cfg.ClaimLuckyRefundDuration)) {
		return 0, ErrClaimWindowElapsed
	}

	rec, err := s.records.GetRecord(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	amount := rec.AssignedTo[caller]
	if amount <= 0 {
		return 0, ErrNothingAssigned
	}
	if rec.ClaimedBy[caller] {
		return 0, ErrAlreadyClaimed
	}

	if s.funds != nil {
		m := []engine.Movement{{Wallet: caller, Amount: amount, Memo: "lucky-refund:" + raffleID}}
		if err := s.funds.Transfer(ctx, m); err != nil {
			return 0, fmt.Errorf("lucky refund transfer: %w", err)
		}
	}

	if rec.ClaimedBy == nil {
		rec.ClaimedBy = make(map[string]bool)
	}
	rec.ClaimedBy[caller] = true
	rec.Claimed += amount
	if _, err := s.records.UpdateRecord(ctx, rec); err != nil {
		return 0, fmt.Errorf("update record: %w", err)
	}

	if s.exclude != nil {
		if err := s.exclude.ExcludeFromDraw(ctx, raffleID, caller); err != nil {
			s.log.WithError(err).WithField("raffle_id", raffleID).Warn("exclusion callback failed")
		}
	}

	s.log.WithField("raffle_id", raffleID).
		WithField("participant", caller).
		WithField("amount", amount).
		Info("lucky refund claimed")
	s.meters.IncLuckyRefundClaimed()

	return amount, nil
}

// Sweep moves the unclaimed lucky refund balance to the treasury after the
// claim window. Admin only.
func (s *Service) Sweep(ctx context.Context, caller, raffleID string) (int64, error) {
	if s.auth == nil {
		return 0, engine.ErrNotAdmin
	}
	if owner, err := s.auth.Owner(ctx); err != nil || owner != caller {
		ok, err := s.auth.IsAdmin(ctx, caller)
		if err != nil {
			return 0, fmt.Errorf("authority check: %w", err)
		}
		if !ok {
			return 0, engine.ErrNotAdmin
		}
	}

	r, err := s.raffles.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	cfg, err := s.cfg.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("config snapshot: %w", err)
	}
	if r.EndedTime.IsZero() || s.now().Before(r.EndedTime.Add(cfg.ClaimLuckyRefundDuration)) {
		return 0, fmt.Errorf("%w: claim window still open", ErrClaimNotOpen)
	}

	rec, err := s.records.GetRecord(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	remainder := rec.Assigned - rec.Claimed - rec.SweptAmount
	if remainder <= 0 {
		return 0, nil
	}

	wallet := r.Wallets.Treasury
	if wallet == "" {
		wallet = cfg.TreasuryWallet
	}
	if s.funds != nil {
		m := []engine.Movement{{Wallet: wallet, Amount: remainder, Memo: "lucky-refund-sweep:" + raffleID}}
		if err := s.funds.Transfer(ctx, m); err != nil {
			return 0, fmt.Errorf("sweep transfer: %w", err)
		}
	}

	rec.SweptAmount += remainder
	if _, err := s.records.UpdateRecord(ctx, rec); err != nil {
		return 0, fmt.Errorf("update record: %w", err)
	}

	s.log.WithField("raffle_id", raffleID).
		WithField("amount", remainder).
		Info("unclaimed lucky refunds swept")
	return remainder, nil
}
