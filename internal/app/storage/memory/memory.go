// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is the default backing for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/luckyrefund"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/randomness"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
)

// statusIndex is an ordered id set: an append-only vector plus an id to
// position map. Membership, add and swap-remove are all O(1). Iteration
// order is stable between mutations but otherwise carries no meaning.
type statusIndex struct {
	ids []string
	pos map[string]int
}

func newStatusIndex() *statusIndex {
	return &statusIndex{pos: make(map[string]int)}
}

func (x *statusIndex) add(id string) {
	if _, ok := x.pos[id]; ok {
		return
	}
	x.pos[id] = len(x.ids)
	x.ids = append(x.ids, id)
}

func (x *statusIndex) remove(id string) {
	i, ok := x.pos[id]
	if !ok {
		return
	}
	last := len(x.ids) - 1
	moved := x.ids[last]
	x.ids[i] = moved
	x.pos[moved] = i
	x.ids = x.ids[:last]
	delete(x.pos, id)
}

func (x *statusIndex) list(limit int) []string {
	n := len(x.ids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]string, n)
	copy(out, x.ids[:n])
	return out
}

// Store is the in-memory implementation of every storage interface.
type Store struct {
	mu sync.RWMutex

	raffles        map[string]raffle.Raffle
	byStatus       map[raffle.Status]*statusIndex
	needsReroll    *statusIndex
	entries        map[string][]raffle.Entry
	participants   map[string][]raffle.Participant
	participantIdx map[string]map[string]int // raffleID -> address -> list position

	luckyRecords map[string]luckyrefund.Record
	samplingDue  *statusIndex

	randomRequests map[string]randomness.Request
	pendingRandom  *statusIndex
}

var _ storage.RaffleStore = (*Store)(nil)
var _ storage.LuckyRefundStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	s := &Store{
		raffles:        make(map[string]raffle.Raffle),
		byStatus:       make(map[raffle.Status]*statusIndex),
		needsReroll:    newStatusIndex(),
		entries:        make(map[string][]raffle.Entry),
		participants:   make(map[string][]raffle.Participant),
		participantIdx: make(map[string]map[string]int),
		luckyRecords:   make(map[string]luckyrefund.Record),
		samplingDue:    newStatusIndex(),
		randomRequests: make(map[string]randomness.Request),
		pendingRandom:  newStatusIndex(),
	}
	for _, st := range raffle.AllStatuses {
		s.byStatus[st] = newStatusIndex()
	}
	return s
}

// RaffleStore implementation -------------------------------------------------

func (s *Store) CreateRaffle(_ context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, exists := s.raffles[r.ID]; exists {
		return raffle.Raffle{}, fmt.Errorf("raffle %s already exists", r.ID)
	}
	if r.Status == "" {
		r.Status = raffle.StatusScheduled
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Excluded = cloneBoolMap(r.Excluded)

	s.raffles[r.ID] = r
	s.byStatus[r.Status].add(r.ID)
	if r.NeedsReroll {
		s.needsReroll.add(r.ID)
	}
	return cloneRaffle(r), nil
}

func (s *Store) UpdateRaffle(_ context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.raffles[r.ID]
	if !ok {
		return raffle.Raffle{}, fmt.Errorf("raffle %s: %w", r.ID, storage.ErrNotFound)
	}

	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r.Excluded = cloneBoolMap(r.Excluded)

	if original.Status != r.Status {
		s.byStatus[original.Status].remove(r.ID)
		s.byStatus[r.Status].add(r.ID)
	}
	if r.NeedsReroll {
		s.needsReroll.add(r.ID)
	} else {
		s.needsReroll.remove(r.ID)
	}

	s.raffles[r.ID] = r
	return cloneRaffle(r), nil
}

func (s *Store) GetRaffle(_ context.Context, id string) (raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.raffles[id]
	if !ok {
		return raffle.Raffle{}, fmt.Errorf("raffle %s: %w", id, storage.ErrNotFound)
	}
	return cloneRaffle(r), nil
}

func (s *Store) ListRaffles(_ context.Context, accountID string, limit int) ([]raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]raffle.Raffle, 0)
	for _, r := range s.raffles {
		if accountID != "" && r.AccountID != accountID {
			continue
		}
		out = append(out, cloneRaffle(r))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListByStatus(_ context.Context, status raffle.Status, limit int) ([]raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byStatus[status]
	if !ok {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	ids := idx.list(limit)
	out := make([]raffle.Raffle, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRaffle(s.raffles[id]))
	}
	return out, nil
}

func (s *Store) ListNeedingReroll(_ context.Context, limit int) ([]raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.needsReroll.list(limit)
	out := make([]raffle.Raffle, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRaffle(s.raffles[id]))
	}
	return out, nil
}

func (s *Store) AppendEntry(_ context.Context, raffleID string, e raffle.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.raffles[raffleID]; !ok {
		return fmt.Errorf("raffle %s: %w", raffleID, storage.ErrNotFound)
	}
	ledger := s.entries[raffleID]
	if n := len(ledger); n > 0 && e.Cumulative <= ledger[n-1].Cumulative {
		return fmt.Errorf("entry cumulative %d not increasing", e.Cumulative)
	}
	s.entries[raffleID] = append(ledger, e)
	return nil
}

func (s *Store) ListEntries(_ context.Context, raffleID string) ([]raffle.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.entries[raffleID]
	out := make([]raffle.Entry, len(ledger))
	copy(out, ledger)
	return out, nil
}

func (s *Store) UpsertParticipant(_ context.Context, p raffle.Participant) (raffle.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.participantIdx[p.RaffleID]
	if !ok {
		idx = make(map[string]int)
		s.participantIdx[p.RaffleID] = idx
	}

	now := time.Now().UTC()
	if pos, exists := idx[p.Address]; exists {
		p.CreatedAt = s.participants[p.RaffleID][pos].CreatedAt
		p.UpdatedAt = now
		s.participants[p.RaffleID][pos] = p
	} else {
		p.CreatedAt = now
		p.UpdatedAt = now
		idx[p.Address] = len(s.participants[p.RaffleID])
		s.participants[p.RaffleID] = append(s.participants[p.RaffleID], p)
	}
	return p, nil
}

func (s *Store) GetParticipant(_ context.Context, raffleID, address string) (raffle.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.participantIdx[raffleID]
	if !ok {
		return raffle.Participant{}, fmt.Errorf("participant %s in raffle %s: %w", address, raffleID, storage.ErrNotFound)
	}
	pos, ok := idx[address]
	if !ok {
		return raffle.Participant{}, fmt.Errorf("participant %s in raffle %s: %w", address, raffleID, storage.ErrNotFound)
	}
	return s.participants[raffleID][pos], nil
}

func (s *Store) ListParticipants(_ context.Context, raffleID string) ([]raffle.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.participants[raffleID]
	out := make([]raffle.Participant, len(list))
	copy(out, list)
	return out, nil
}

func (s *Store) ParticipantCount(_ context.Context, raffleID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.participants[raffleID])), nil
}

func (s *Store) GetStats(_ context.Context, accountID string) (raffle.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats raffle.Stats
	for _, r := range s.raffles {
		if accountID != "" && r.AccountID != accountID {
			continue
		}
		stats.TotalRaffles++
		if !r.Status.Terminal() {
			stats.OpenRaffles++
		}
		stats.TicketsSold += r.TicketsSold
		stats.AmountSettled += r.ClaimedAmount
		stats.AmountRefunded += r.RefundedAmount
	}
	return stats, nil
}

// LuckyRefundStore implementation ---------------------------------------------

func (s *Store) CreateRecord(_ context.Context, rec luckyrefund.Record) (luckyrefund.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.RaffleID == "" {
		return luckyrefund.Record{}, fmt.Errorf("raffle id is required")
	}
	if _, exists := s.luckyRecords[rec.RaffleID]; exists {
		return luckyrefund.Record{}, fmt.Errorf("lucky refund record for raffle %s already exists", rec.RaffleID)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec = cloneRecord(rec)

	s.luckyRecords[rec.RaffleID] = rec
	if !rec.SamplingDone {
		s.samplingDue.add(rec.RaffleID)
	}
	return cloneRecord(rec), nil
}

func (s *Store) UpdateRecord(_ context.Context, rec luckyrefund.Record) (luckyrefund.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.luckyRecords[rec.RaffleID]
	if !ok {
		return luckyrefund.Record{}, fmt.Errorf("lucky refund record for raffle %s: %w", rec.RaffleID, storage.ErrNotFound)
	}

	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	rec = cloneRecord(rec)

	s.luckyRecords[rec.RaffleID] = rec
	if rec.SamplingDone {
		s.samplingDue.remove(rec.RaffleID)
	} else {
		s.samplingDue.add(rec.RaffleID)
	}
	return cloneRecord(rec), nil
}

func (s *Store) GetRecord(_ context.Context, raffleID string) (luckyrefund.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.luckyRecords[raffleID]
	if !ok {
		return luckyrefund.Record{}, fmt.Errorf("lucky refund record for raffle %s: %w", raffleID, storage.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListSamplingDue(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplingDue.list(limit), nil
}

// RandomnessStore implementation ----------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, exists := s.randomRequests[req.ID]; exists {
		return randomness.Request{}, fmt.Errorf("randomness request %s already exists", req.ID)
	}
	if req.Status == "" {
		req.Status = randomness.StatusPending
	}
	req.CreatedAt = time.Now().UTC()

	s.randomRequests[req.ID] = req
	if req.Status == randomness.StatusPending {
		s.pendingRandom.add(req.ID)
	}
	return req, nil
}

func (s *Store) UpdateRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.randomRequests[req.ID]
	if !ok {
		return randomness.Request{}, fmt.Errorf("randomness request %s: %w", req.ID, storage.ErrNotFound)
	}
	req.CreatedAt = original.CreatedAt

	s.randomRequests[req.ID] = req
	if req.Status == randomness.StatusPending {
		s.pendingRandom.add(req.ID)
	} else {
		s.pendingRandom.remove(req.ID)
	}
	return req, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.randomRequests[id]
	if !ok {
		return randomness.Request{}, fmt.Errorf("randomness request %s: %w", id, storage.ErrNotFound)
	}
	return req, nil
}

func (s *Store) ListPendingRequests(_ context.Context, limit int) ([]randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.pendingRandom.list(limit)
	out := make([]randomness.Request, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.randomRequests[id])
	}
	return out, nil
}

// Clone helpers ---------------------------------------------------------------

func cloneRaffle(r raffle.Raffle) raffle.Raffle {
	r.Excluded = cloneBoolMap(r.Excluded)
	return r
}

func cloneRecord(rec luckyrefund.Record) luckyrefund.Record {
	rec.SelectedIndexes = cloneInt64BoolMap(rec.SelectedIndexes)
	rec.AssignedTo = cloneInt64Map(rec.AssignedTo)
	rec.ClaimedBy = cloneBoolMap(rec.ClaimedBy)
	rec.Excluded = cloneBoolMap(rec.Excluded)
	if rec.ChainSeed != nil {
		seed := make([]byte, len(rec.ChainSeed))
		copy(seed, rec.ChainSeed)
		rec.ChainSeed = seed
	}
	return rec
}

func cloneBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneInt64Map(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneInt64BoolMap(in map[int64]bool) map[int64]bool {
	if in == nil {
		return nil
	}
	out := make(map[int64]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
