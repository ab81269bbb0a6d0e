package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/handler"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// CheckTimeout bounds each readiness check.
const CheckTimeout = 3 * time.Second

// Health status values.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// HealthReport is the data member of a readiness response.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness always answers 200.
func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSON(HealthReport{Status: StatusOK}).Render(w, r)
	}
}

// Readiness runs every check and answers 503 when any of them fails.
func Readiness(log *slog.Logger, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{Status: StatusOK, Checks: make(map[string]string, len(checks))}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
			err := c.Fn(ctx)
			cancel()
			if err != nil {
				log.WarnContext(r.Context(), "readiness check failed", slog.String("check", c.Name), logger.Error(err))
				report.Status = StatusUnavailable
				report.Checks[c.Name] = err.Error()
				continue
			}
			report.Checks[c.Name] = StatusOK
		}

		status := http.StatusOK
		if report.Status != StatusOK {
			status = http.StatusServiceUnavailable
		}
		_ = handler.JSON(report, handler.WithJSONStatus(status)).Render(w, r)
	}
}
