package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object as listed by the archive API.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores archive files.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads archive files back. Get returns ErrNotFound for a
// missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies cycle history older than a cutoff to cold storage and
// reports how many cycles the archive holds.
type Archiver interface {
	ArchiveCycles(ctx context.Context, before time.Time) (int64, error)
}
