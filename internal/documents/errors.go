package documents

import (
	"errors"
	"net/http"
)

// Document errors.
var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicate    = errors.New("document already exists")
	ErrEmptySource  = errors.New("source document is empty")
	ErrNotPDF       = errors.New("source document must be a PDF")
	ErrNotDeletable = errors.New("document cannot be deleted while processing")
)

// MapHTTPStatus maps document errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrNotDeletable):
		return http.StatusConflict
	case errors.Is(err, ErrEmptySource), errors.Is(err, ErrNotPDF):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
