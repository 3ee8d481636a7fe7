package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/ratelimit"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/stats"
)

// StatusHandler serves operational endpoints: the admin rate-limit
// snapshot and public download statistics.
type StatusHandler struct {
	limiter *ratelimit.Limiter
	stats   *stats.Store
	logger  *zap.Logger
}

// NewStatusHandler creates a status handler
func NewStatusHandler(limiter *ratelimit.Limiter, statsStore *stats.Store, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		limiter: limiter,
		stats:   statsStore,
		logger:  logger,
	}
}

// HandleRateLimitStatus handles GET /rate-limit-status
func (h *StatusHandler) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "operational",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stats":     h.limiter.Stats(),
		"note":      "Counters are in-memory and reset when the service restarts.",
	})
}

// HandleStats handles GET /stats
func (h *StatusHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Statistics are not enabled",
		})
		return
	}

	totals, err := h.stats.Totals()
	if err != nil {
		h.logger.Error("failed to query download totals", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
		return
	}

	top, err := h.stats.Top(10)
	if err != nil {
		h.logger.Error("failed to query top downloads", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totals": totals,
		"top":    top,
	})
}
