package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"
)

// HealthCheck reports the state of every configured dependency
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.deps.Checks))
	for name, check := range h.deps.Checks {
		if err := check(); err != nil {
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	failing := lo.Filter(lo.Keys(checks), func(name string, _ int) bool { return checks[name] != "ok" })
	sort.Strings(failing)

	status, code := "healthy", http.StatusOK
	if len(failing) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"checks":   checks,
		"failing":  failing,
		"uptime_s": int64(time.Since(h.started).Seconds()),
	})
}
