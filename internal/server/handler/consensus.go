package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// CycleService is what the consensus endpoints need from the service
// layer.
type CycleService interface {
	RunCycle(ctx context.Context) (domain.CycleOutcome, error)
	Latest() (domain.CycleOutcome, bool)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.CycleRecord, error)
}

// ConsensusHandler serves the latest consensus and book reports and lets
// operators trigger a cycle.
type ConsensusHandler struct {
	cycles CycleService
	prices domain.PriceCache
	pair   string
	logger *slog.Logger
}

// NewConsensusHandler creates a ConsensusHandler. prices may be nil; when
// set it answers /api/consensus/latest before this process has run a cycle.
func NewConsensusHandler(cycles CycleService, prices domain.PriceCache, pair string, logger *slog.Logger) *ConsensusHandler {
	return &ConsensusHandler{cycles: cycles, prices: prices, pair: pair, logger: logHandler(logger, "consensus")}
}

// Latest returns the most recent consensus result.
// GET /api/consensus/latest
func (h *ConsensusHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if out, ok := h.cycles.Latest(); ok {
		writeJSON(w, http.StatusOK, out.Consensus)
		return
	}
	if h.prices != nil {
		price, spread, ts, err := h.prices.GetConsensus(r.Context(), h.pair)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{
				"pair":           h.pair,
				"median_mid":     price,
				"spread_max_bps": spread,
				"as_of":          ts.UnixMilli(),
				"cached":         true,
			})
			return
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.ErrorContext(r.Context(), "handler: read cached consensus", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to read consensus")
			return
		}
	}
	writeError(w, http.StatusNotFound, "no cycle has completed yet")
}

// LatestBooks returns the most recent book report.
// GET /api/books/latest
func (h *ConsensusHandler) LatestBooks(w http.ResponseWriter, r *http.Request) {
	out, ok := h.cycles.Latest()
	if !ok || out.Books == nil {
		writeError(w, http.StatusNotFound, "no book report available")
		return
	}
	writeJSON(w, http.StatusOK, out.Books)
}

// Trigger runs one cycle synchronously and returns its outcome. A cycle
// already in flight yields 409.
// POST /api/cycle
func (h *ConsensusHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	out, err := h.cycles.RunCycle(r.Context())
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "a cycle is already running")
		return
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "handler: triggered cycle failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cycle failed")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: cycle triggered",
		slog.String("cycle_id", out.Consensus.CycleID),
		slog.Duration("elapsed", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, out)
}
