package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bookwise/bookwise/internal/log"
)

const healthTimeout = 3 * time.Second

// health runs each registered dependency check and reports per-dependency
// status alongside overall process health. Any failing dependency makes the
// probe 503 with status "degraded". Served on both /health and /ready.
func health(checks []HealthCheck, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for _, c := range checks {
			if c.Check(ctx) {
				deps[c.Name] = "ok"
				continue
			}
			deps[c.Name] = "unavailable"
			status = http.StatusServiceUnavailable
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": state, "dependencies": deps}, logger)
	}
}
