package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// AuditReader reads the audit log.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListByCycle(ctx context.Context, cycleID string) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail of degraded cycles and archive runs.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// List returns audit entries newest first, or a single cycle's entries
// when ?cycle_id is set.
// GET /api/audit?cycle_id&limit&offset&since&until
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		entries []domain.AuditEntry
		err     error
	)
	if id := r.URL.Query().Get("cycle_id"); id != "" {
		entries, err = h.audit.ListByCycle(r.Context(), id)
	} else {
		opts, perr := parseListOpts(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid time parameter: "+perr.Error())
			return
		}
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
