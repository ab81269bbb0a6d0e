package ratelimit

import "errors"

var (
	ErrInvalidConfig = errors.New("ratelimit: invalid config")
	ErrKeyRequired   = errors.New("ratelimit: key is required")
	ErrStoreRequired = errors.New("ratelimit: store is required")
)
