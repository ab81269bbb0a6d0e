// Package requestid tags every HTTP request with a correlation id.
//
// Middleware reuses a well-formed X-Request-ID header or generates a uuid,
// stores it in the request context and echoes it in the response.
// LoggerExtractor feeds the id into slog records built by pkg/logger.
package requestid
