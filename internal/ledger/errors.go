package ledger

import "github.com/cockroachdb/errors"

// Error kinds returned by the ledger. Match with errors.Is.
var (
	// ErrInvalidInput is returned before any store access for an empty key or
	// a non-finite score.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRejected means the score was too low for the current board.
	ErrRejected = errors.New("score too low for leaderboard")
	// ErrConflictRetryExhausted means every attempt lost a race with a
	// concurrent writer. The board is consistent; the submission was not applied.
	ErrConflictRetryExhausted = errors.New("conflict retries exhausted")
	// ErrStoreUnavailable marks any store failure surfaced to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")
)
