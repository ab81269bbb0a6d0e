package worker

import "errors"

var (
	// ErrNoStartHook is returned by Start when the worker kind supplied no
	// start hook. The worker is left stopped.
	ErrNoStartHook = errors.New("worker: start hook not configured")

	// ErrJobsInFlight is returned by ResetStats while jobs are processing.
	ErrJobsInFlight = errors.New("worker: cannot reset stats while jobs are in flight")

	// ErrInvalidInterval is returned for a non-positive schedule interval.
	ErrInvalidInterval = errors.New("worker: interval must be positive")

	// ErrDuplicateWorker is returned when registering a name twice.
	ErrDuplicateWorker = errors.New("worker: duplicate worker name")

	// ErrWorkerNotFound is returned for an unknown worker name.
	ErrWorkerNotFound = errors.New("worker: not found")

	// ErrBusy is returned by RunNow while a scheduled run is executing.
	ErrBusy = errors.New("worker: previous run still executing")

	// ErrNotRunning is returned by RunNow on a stopped worker and for
	// deliveries a stopping queue worker hands back to the broker.
	ErrNotRunning = errors.New("worker: not running")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("worker: handler panicked")
)
