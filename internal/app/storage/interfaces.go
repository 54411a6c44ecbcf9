package storage

import (
	"context"
	"errors"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/luckyrefund"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/randomness"
)

// ErrNotFound reports a missing record. Implementations wrap it so callers
// can match with errors.Is regardless of backing store.
var ErrNotFound = errors.New("not found")

// Transactional is an optional store capability. RunInTransaction executes
// fn with every store call made through fn's context bound to a single
// transaction, committed when fn returns nil and rolled back otherwise.
// Nested calls join the enclosing transaction. Stores whose individual
// operations are already atomic need not implement it.
type Transactional interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RaffleStore persists raffles, participants and the cumulative entries
// ledger. Implementations maintain a per-status index over raffle ids and
// the needs-reroll set so the scheduler can scan eligible raffles in O(1)
// per id.
type RaffleStore interface {
	CreateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error)
	UpdateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error)
	GetRaffle(ctx context.Context, id string) (raffle.Raffle, error)
	ListRaffles(ctx context.Context, accountID string, limit int) ([]raffle.Raffle, error)

	// ListByStatus returns up to limit raffles currently in the given
	// status. Order is the index order and carries no meaning beyond
	// stability within a call.
	ListByStatus(ctx context.Context, status raffle.Status, limit int) ([]raffle.Raffle, error)

	// ListNeedingReroll returns up to limit raffles flagged for a fresh
	// winner draw.
	ListNeedingReroll(ctx context.Context, limit int) ([]raffle.Raffle, error)

	// AppendEntry appends one cumulative ledger row for a purchase.
	AppendEntry(ctx context.Context, raffleID string, e raffle.Entry) error
	ListEntries(ctx context.Context, raffleID string) ([]raffle.Entry, error)

	UpsertParticipant(ctx context.Context, p raffle.Participant) (raffle.Participant, error)
	GetParticipant(ctx context.Context, raffleID, address string) (raffle.Participant, error)
	ListParticipants(ctx context.Context, raffleID string) ([]raffle.Participant, error)
	ParticipantCount(ctx context.Context, raffleID string) (int64, error)

	GetStats(ctx context.Context, accountID string) (raffle.Stats, error)
}

// LuckyRefundStore persists lucky-refund records. UpdateRecord commits a
// whole record in one call so a sampler batch is atomic.
type LuckyRefundStore interface {
	CreateRecord(ctx context.Context, rec luckyrefund.Record) (luckyrefund.Record, error)
	UpdateRecord(ctx context.Context, rec luckyrefund.Record) (luckyrefund.Record, error)
	GetRecord(ctx context.Context, raffleID string) (luckyrefund.Record, error)

	// ListSamplingDue returns up to limit raffle ids whose record still has
	// pool left to assign.
	ListSamplingDue(ctx context.Context, limit int) ([]string, error)
}

// RandomnessStore persists randomness requests and their correlation to
// raffles.
type RandomnessStore interface {
	CreateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	UpdateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	GetRequest(ctx context.Context, id string) (randomness.Request, error)
	ListPendingRequests(ctx context.Context, limit int) ([]randomness.Request, error)
}
