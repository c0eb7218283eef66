package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// StatusHandler reports the running mode and cycle configuration.
type StatusHandler struct {
	mode      string
	cfg       domain.CycleConfig
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, cfg domain.CycleConfig, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, cfg: cfg, startedAt: startedAt}
}

// GetStatus responds with the mode, pair, sources and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                  h.mode,
		"pair":                  h.cfg.Pair,
		"sources":               h.cfg.Sources,
		"book_sources":          h.cfg.BookSources,
		"outlier_threshold_pct": h.cfg.OutlierThresholdPct,
		"book_depth":            h.cfg.BookDepth,
		"uptime_seconds":        int64(time.Since(h.startedAt).Seconds()),
	})
}
