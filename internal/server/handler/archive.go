package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

const archiveRoot = "archive/"

// ArchiveHandler lists and downloads archived cycle history.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logHandler(logger, "archive")}
}

// List returns the archived objects under archive/, optionally narrowed by
// ?prefix=cycles/2026-01.
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix, ok := archivePath(r.URL.Query().Get("prefix"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prefix")
		return
	}
	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": infos})
}

// Get streams one archived object.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := archivePath(r.PathValue("path"))
	if !ok || p == archiveRoot {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	body, err := h.reader.Get(r.Context(), p)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get archive",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	switch path.Ext(p) {
	case ".csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	case ".jsonl":
		w.Header().Set("Content-Type", "application/x-ndjson")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(p)+`"`)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream archive", slog.String("error", err.Error()))
	}
}

// archivePath confines a client-supplied path to the archive root.
func archivePath(p string) (string, bool) {
	p = strings.TrimPrefix(strings.TrimPrefix(p, "/"), archiveRoot)
	if p == "" {
		return archiveRoot, true
	}
	clean := path.Clean("/" + p)
	if clean != "/"+p && clean+"/" != "/"+p {
		return "", false
	}
	return archiveRoot + strings.TrimPrefix(p, "/"), true
}
