package cache

import "errors"

var (
	// ErrCacheMiss is returned by Get when the key is absent or expired.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrEmptyKey is returned when an operation receives an empty key.
	ErrEmptyKey = errors.New("cache: empty key")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache: provider closed")
)
