package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Registry errors
	ErrPeerNotFound = errors.New("peer not found")
	ErrPeerGone     = errors.New("peer transport closed")

	// Policy errors
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrNotAuthenticated = errors.New("peer is not authenticated")
	ErrNotTrusted       = errors.New("peer reputation below trust threshold")

	// Validation errors
	ErrInvalidMessage  = errors.New("message failed validation")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMalformedFrame  = errors.New("malformed message framing")
	ErrMissingTarget   = errors.New("missing or invalid target peer id")
	ErrFieldTooLong    = errors.New("string field exceeds maximum length")
	ErrForbiddenChars  = errors.New("string field contains control characters")

	// Auth errors
	ErrChallengeExpired = errors.New("auth challenge expired")
	ErrChallengeInvalid = errors.New("auth challenge not issued by this server")

	// Matchmaking errors
	ErrNoHelperAvailable = errors.New("no trusted helper available")
)
