package notifications

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("notifications: not found")
	ErrInvalidRequest      = errors.New("notifications: invalid request")
	ErrInvalidDeliveryType = errors.New("notifications: invalid delivery type")
	ErrNoSender            = errors.New("notifications: no sender for delivery type")
	ErrMissingAddress      = errors.New("notifications: recipient address unknown")
	ErrEmitFailed          = errors.New("notifications: websocket emission failed")
	ErrUndeliverable       = errors.New("notifications: undeliverable")
	ErrDuplicateID         = errors.New("notifications: duplicate id")
)

// ValidationError lists the fields of a request that failed validation.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, f := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e.Fields[f], "; ")))
	}
	return fmt.Sprintf("%v: %s", ErrInvalidRequest, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// undeliverable marks err as permanent: retrying the job cannot succeed.
func undeliverable(err error) error {
	return fmt.Errorf("%w: %w", ErrUndeliverable, err)
}
