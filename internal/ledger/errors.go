package ledger

import (
	"errors"
	"net/http"
)

// Ledger errors.
var (
	ErrNotFound          = errors.New("document not found")
	ErrUnknownState      = errors.New("unknown lifecycle state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("state changed concurrently")
)

// MapHTTPStatus maps ledger errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidTransition) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrUnknownState) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
