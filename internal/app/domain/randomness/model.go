// Package randomness defines random value request records.
package randomness

import "time"

// RequestStatus is the state of a randomness request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
)

// Request correlates an asynchronous randomness delivery with the raffle
// that asked for it.
type Request struct {
	ID          string        `json:"id"`
	RaffleID    string        `json:"raffle_id"`
	Status      RequestStatus `json:"status"`
	Value       uint64        `json:"value,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	FulfilledAt time.Time     `json:"fulfilled_at,omitempty"`
}
