package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/export"
)

// HistoryHandler serves cycle history, per-source book history and the
// durable event stream.
type HistoryHandler struct {
	cycles CycleService
	books  domain.BookStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. books and bus may be nil.
func NewHistoryHandler(cycles CycleService, books domain.BookStore, bus domain.SignalBus, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{cycles: cycles, books: books, bus: bus, logger: logHandler(logger, "history")}
}

// List returns cycle summaries newest first.
// GET /api/history?limit&offset&since&until
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time parameter: "+err.Error())
		return
	}
	recs, err := h.cycles.History(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": recs,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// CSV streams cycle summaries as a CSV download.
// GET /api/history.csv
func (h *HistoryHandler) CSV(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time parameter: "+err.Error())
		return
	}
	recs, err := h.cycles.History(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: export history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="cycles.csv"`)
	if err := export.WriteCycles(w, recs); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: write csv", slog.String("error", err.Error()))
	}
}

// BookHistory returns the stored analyses of one source.
// GET /api/books/{source}/history
func (h *HistoryHandler) BookHistory(w http.ResponseWriter, r *http.Request) {
	if h.books == nil {
		writeError(w, http.StatusNotImplemented, "book history requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time parameter: "+err.Error())
		return
	}
	source := r.PathValue("source")
	recs, err := h.books.ListBySource(r.Context(), source, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list book history",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list book history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "books": recs})
}

// Events replays the durable cycle stream after a given id.
// GET /api/events?after=<id>&count=<n>
func (h *HistoryHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotImplemented, "event stream unavailable")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}
	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamCycles, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read event stream", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	type event struct {
		ID        string                 `json:"id"`
		Consensus domain.ConsensusResult `json:"consensus"`
	}
	events := make([]event, 0, len(msgs))
	for _, m := range msgs {
		var e event
		if err := json.Unmarshal(m.Payload, &e.Consensus); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skip malformed event",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.ID = m.ID
		events = append(events, e)
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}
