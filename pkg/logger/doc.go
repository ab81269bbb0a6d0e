// Package logger builds the structured slog loggers used across notifykit.
//
// New creates a *slog.Logger from functional options (format, level, static
// attributes, context extractors). The resulting handler is wrapped by a
// decorator that pulls request- or job-scoped values out of context.Context
// on every record, so a delivery worker can log with the job id attached
// without threading a child logger through every call.
//
// Attribute helpers (Error, UserID, Worker, Queue, RoutingKey, SocketID, ...)
// keep key names uniform between the broker, worker and gateway packages:
//
//	log := logger.New(logger.WithEnvironment("production", "notifykit"))
//	log.ErrorContext(ctx, "delivery failed",
//	    logger.Worker("notifications.in-app"),
//	    logger.Attempt(3),
//	    logger.Error(err),
//	)
package logger
