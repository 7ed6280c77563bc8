package service

import "errors"

// Validation failures: rejected before any mutation, safe to retry
// after correcting input.
var (
	ErrInvalidAmount = errors.New("amount must be a positive integer up to 1000000000")
	ErrInvalidUserID = errors.New("user id must be a 17-19 digit numeric string")
	ErrInvalidItemID = errors.New("item id must be a non-empty string of at most 50 characters")
)

// Shop catalog failures
var (
	ErrItemExists   = errors.New("shop item already exists")
	ErrItemNotFound = errors.New("shop item not found")
)

// Trade escrow precondition failures: caller-facing, non-retryable
// without changed state. Insufficient funds or inventory are expected
// outcomes and reported via boolean results, not errors.
var (
	ErrAlreadyTrading    = errors.New("a party already has an active trade")
	ErrSelfTrade         = errors.New("cannot trade with yourself")
	ErrSessionNotFound   = errors.New("trade session not found")
	ErrNotParticipant    = errors.New("user is not a participant in this trade")
	ErrTradeNotActive    = errors.New("trade session is no longer active")
	ErrTradeExpired      = errors.New("trade session has expired")
	ErrTradeNotConfirmed = errors.New("both parties must confirm before execution")
)
