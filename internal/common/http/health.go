package http

import (
	"net/http"

	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
)

// StatsFunc reports live counters included in the health body.
type StatsFunc func() map[string]any

func HealthHandler(log *logger.Logger, stats StatsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteErrorEnvelope(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", nil, "")
			return
		}
		log.WithFields(r.Context(), logger.Fields{"action": "health_check"}).DebugSampled(0.1, "health check request")

		body := map[string]any{"status": "ok"}
		if stats != nil {
			for k, v := range stats() {
				body[k] = v
			}
		}
		WriteJSON(w, http.StatusOK, body)
	}
}
