package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
	"github.com/alanyoungcy/priceoracle/internal/export"
)

// CycleArchiveStore provides read access to cycle history for archival.
type CycleArchiveStore interface {
	// ListBefore returns all cycles strictly before the cutoff, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.CycleRecord, error)
}

// ArchiveImpl implements domain.Archiver by exporting old cycle summaries
// to object storage as CSV, with a JSONL twin for reloading.
//
// Deletion of the archived rows from the primary store is not performed
// here; the caller does it once the upload has succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	cycles CycleArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, cycles CycleArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, cycles: cycles, audit: audit}
}

// ArchiveCycles uploads every cycle before the cutoff to
// archive/cycles/YYYY-MM/cycles-<cutoff>.csv (and .jsonl) and returns how
// many were archived. Nothing is written when there are no cycles. A run
// for a cutoff that was already uploaded (the previous delete failed) is
// not uploaded again.
func (a *ArchiveImpl) ArchiveCycles(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.cycles.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	base := archiveBase("cycles", before)
	count := int64(len(records))
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, base+".csv")
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive cycles exists: %w", err)
		}
		if exists {
			return count, nil
		}
	}

	var csvBuf bytes.Buffer
	if err := export.WriteCycles(&csvBuf, records); err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles csv: %w", err)
	}
	jsonl, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles marshal: %w", err)
	}

	if err := a.writer.Put(ctx, base+".csv", &csvBuf, "text/csv"); err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles upload csv: %w", err)
	}
	if err := a.writer.Put(ctx, base+".jsonl", bytes.NewReader(jsonl), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles upload jsonl: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.cycles", map[string]any{
			"path":   base + ".csv",
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive cycles audit log: %w", err)
		}
	}
	return count, nil
}

// archiveBase builds the key prefix for one archive run, partitioned by the
// year-month of the cutoff. The cutoff itself keeps runs within a month from
// overwriting each other.
//
//	archive/cycles/2026-10/cycles-20261015T000000Z
func archiveBase(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%s", kind, before.Format("2006-01"), kind, before.Format("20060102T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
