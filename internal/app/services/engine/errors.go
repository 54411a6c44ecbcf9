package engine

import "errors"

// Validation errors.
var (
	ErrInvalidCategory = errors.New("invalid raffle category")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrTicketBounds    = errors.New("ticket bounds violation")
	ErrZeroQuantity    = errors.New("ticket quantity must be positive")
)

// Authorization errors.
var (
	ErrNotAdmin  = errors.New("caller is not an administrator")
	ErrNotWinner = errors.New("caller is not the stored winner")
)

// State errors.
var (
	ErrWrongStatus        = errors.New("raffle status does not permit this operation")
	ErrRaffleNotStarted   = errors.New("raffle has not started")
	ErrSalesEnded         = errors.New("ticket sales have ended")
	ErrAlreadyClaimed     = errors.New("already claimed")
	ErrAlreadySwept       = errors.New("already swept")
	ErrWinnerAlreadySet   = errors.New("winner already selected")
	ErrClaimWindowElapsed = errors.New("claim window has elapsed")
	ErrStaleRandomness    = errors.New("randomness request is stale")
	ErrNoParticipants     = errors.New("raffle has no participants")
	ErrWrongAnswer        = errors.New("skill test answer is incorrect")
)

// Financial errors.
var (
	ErrSoldOut            = errors.New("purchase exceeds maximum tickets")
	ErrBatchTotalExceeded = errors.New("batch total exceeded")
)
