package api

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/ledger"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// Machine-readable codes carried in the error body.
const (
	codeInvalidInput     = "invalid_input"
	codeRejected         = "rejected"
	codeConflict         = "conflict_retry_exhausted"
	codeStoreUnavailable = "store_unavailable"
	codeMethodNotAllowed = "method_not_allowed"
	codeInternal         = "internal_error"
)

// classify maps a ledger error to a status, a code and the error whose text is
// safe to show. Server-side failures are reduced to their sentinel.
func classify(err error) (int, string, error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput, errors.UnwrapAll(err)
	case errors.Is(err, ledger.ErrRejected):
		return http.StatusForbidden, codeRejected, ledger.ErrRejected
	case errors.Is(err, ledger.ErrConflictRetryExhausted):
		return http.StatusInternalServerError, codeConflict, ledger.ErrConflictRetryExhausted
	case errors.Is(err, ledger.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusInternalServerError, codeStoreUnavailable, ledger.ErrStoreUnavailable
	default:
		return http.StatusInternalServerError, codeInternal, errors.New(http.StatusText(http.StatusInternalServerError))
	}
}
