// Package luckyrefund defines the guaranteed-margin refund ledger records.
package luckyrefund

import "time"

// Record tracks the lucky-refund pool of a single raffle: the fixed pool
// size, what has been assigned by the sampler, and what participants have
// claimed.
type Record struct {
	RaffleID string `json:"raffle_id"`

	Pool     int64 `json:"pool"`
	Assigned int64 `json:"assigned"`
	Claimed  int64 `json:"claimed"`

	// SelectedIndexes marks participant list positions already drawn, so
	// sampling runs without replacement across batches.
	SelectedIndexes map[int64]bool `json:"selected_indexes,omitempty"`

	// AssignedTo is the amount assigned per participant address.
	AssignedTo map[string]int64 `json:"assigned_to,omitempty"`

	// ClaimedBy marks addresses that already claimed their assignment.
	ClaimedBy map[string]bool `json:"claimed_by,omitempty"`

	// Excluded addresses never receive an assignment: the winner and anyone
	// who already claimed a cash alternative.
	Excluded map[string]bool `json:"excluded,omitempty"`

	// ChainSeed is the running randomness chain the sampler re-hashes each
	// draw; it is the durable checkpoint that makes batches resumable.
	ChainSeed []byte `json:"chain_seed,omitempty"`

	// SamplingDone is set once the pool or the participant universe is
	// exhausted; the raffle then leaves the needs-more-sampling set.
	SamplingDone bool `json:"sampling_done"`

	SweptAmount int64     `json:"swept_amount"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Remaining returns the unassigned portion of the pool.
func (r *Record) Remaining() int64 {
	return r.Pool - r.Assigned
}

// Assignment is one sampler draw inside a batch.
type Assignment struct {
	Address string `json:"address"`
	Index   int64  `json:"index"`
	Amount  int64  `json:"amount"`
}

// BatchResult summarizes one committed sampler batch.
type BatchResult struct {
	RaffleID    string       `json:"raffle_id"`
	Assignments []Assignment `json:"assignments"`
	BatchTotal  int64        `json:"batch_total"`
	Done        bool         `json:"done"`
}
