package worker

import "time"

// EventKind identifies a retry engine event.
type EventKind string

const (
	EventSuccess EventKind = "success"
	EventRetry   EventKind = "retry"
	EventFailure EventKind = "failure"
)

// Event describes one outcome of an attempt.
type Event struct {
	Worker  string
	Kind    EventKind
	Job     any
	Result  any           // success only
	Err     error         // retry and failure
	Attempt int           // 1-based attempt that produced the event
	Delay   time.Duration // retry only: wait before the next attempt
}

// EventHandler receives events synchronously from the processing goroutine.
type EventHandler func(Event)

func noopEventHandler(Event) {}
