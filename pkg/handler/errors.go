package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var ErrNilResponse = errors.New("handler returned nil response")

// HTTPError is an error that carries its response status and a stable key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string { return e.Key }

var (
	ErrBadRequest           = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrNotFound             = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrConflict             = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrUnsupportedMediaType = HTTPError{Code: http.StatusUnsupportedMediaType, Key: "unsupported_media_type"}
	ErrTooManyRequests      = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternalServerError  = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
	ErrServiceUnavailable   = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}
)

// ValidationError maps field names to messages.
type ValidationError url.Values

func NewValidationError() ValidationError { return make(ValidationError) }

func (e ValidationError) Add(field, message string) { url.Values(e).Add(field, message) }

func (e ValidationError) Get(field string) string { return url.Values(e).Get(field) }

func (e ValidationError) IsEmpty() bool { return len(e) == 0 }

func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if msgs := e[f]; len(msgs) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", f, msgs[0]))
		}
	}
	return "validation error: " + strings.Join(parts, ", ")
}
