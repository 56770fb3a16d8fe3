package handlers

import (
	"net/http"
	"time"

	"github.com/seolaris/poolgate/internal/version"
)

// HealthHandler reports liveness plus a coarse pool summary.
func HealthHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		total, available := 0, 0
		for _, info := range d.Pool.Snapshot() {
			total++
			cooling := info.CooldownUntil != nil && info.CooldownUntil.After(now)
			if info.Enabled && !info.Invalid && !cooling {
				available++
			}
		}

		status := "ok"
		code := http.StatusOK
		if available == 0 {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]interface{}{
			"status":             status,
			"version":            version.Version,
			"accounts":           total,
			"accounts_available": available,
		})
	}
}
