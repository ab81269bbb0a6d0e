package worker

import "context"

// Worker is the contract shared by queue and scheduled workers.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() Stats
	State() State
	// AutoStart reports whether Manager.StartAll should start the worker.
	AutoStart() bool
}
