package settlement

import "errors"

// Failure taxonomy shared by every public operation. Callers dispatch on
// these with errors.Is; operations may wrap them with additional context.
var (
	ErrUnauthorized       = errors.New("settlement: unauthorized")
	ErrNotInitialized     = errors.New("settlement: not initialized")
	ErrNotFound           = errors.New("settlement: not found")
	ErrInvalidState       = errors.New("settlement: invalid state")
	ErrInvalidAmount      = errors.New("settlement: invalid amount")
	ErrInvalidTime        = errors.New("settlement: invalid time")
	ErrExpired            = errors.New("settlement: expired")
	ErrAuctionNotEnded    = errors.New("settlement: auction not ended")
	ErrBidTooLow          = errors.New("settlement: bid too low")
	ErrCommitmentMismatch = errors.New("settlement: commitment mismatch")
	ErrAlreadyExists      = errors.New("settlement: already exists")
	ErrOverflow           = errors.New("settlement: overflow")
)

var (
	errNilState  = errors.New("settlement engine: state not configured")
	errNilLedger = errors.New("settlement engine: token ledger not configured")
	errNilAssets = errors.New("settlement engine: asset registry not configured")
)
