// Package ratelimit implements a token bucket limiter with in-memory and
// Redis backed stores, and HTTP middleware that enforces it.
//
// A bucket holds up to Burst tokens and refills Rate tokens per Interval.
// Each request takes one token; an empty bucket answers 429 with
// Retry-After set to the time until the next token.
//
//	limiter, _ := ratelimit.New(ratelimit.NewMemoryStore(), cfg)
//	r.With(ratelimit.Middleware(limiter, ratelimit.ByClientIP("create"))).Post("/", h)
//
// Store errors fail open: the request passes and the error is logged.
package ratelimit
