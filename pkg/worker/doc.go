// Package worker runs background jobs for notifykit.
//
// Two worker kinds share one retry engine:
//
//   - QueueWorker consumes a broker queue, retries each message with
//     exponential backoff and acks or nacks it;
//   - ScheduledWorker runs a handler on a fixed interval, skipping a tick when
//     the previous run is still busy.
//
// Engine.Process implements the retry loop. Attempt n that fails waits
// baseDelay*2^(n-1), capped at MaxBackoff, before attempt n+1; after
// maxRetries failed attempts the last error is returned and a failure event
// is emitted. Events are delivered to the EventHandler given at construction.
//
// Both kinds satisfy the Worker interface and are driven by a Lifecycle
// state machine (stopped, starting, running, stopping). A Manager owns the
// set of workers for a process:
//
//	m := worker.NewManager(worker.WithManagerLogger(log))
//	_ = m.Register(worker.NewQueueWorker("email", provider, "notifications.email", sendEmail,
//	    worker.WithExchange("notifications", "notifications.delivery.email"),
//	    worker.WithMaxRetries(5)))
//	g.Go(m.Run(ctx))
//
// Stopping a worker stops intake only. Handlers already running finish on
// their own; callers needing a drain can poll Idle.
package worker
