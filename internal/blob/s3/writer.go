package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// archivePartSize is the multipart threshold. A month of 10s cycles is
// well under it, so archives normally go up as a single PutObject.
const archivePartSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter. Uploads go through the transfer
// manager, which switches to multipart for large bodies.
type Writer struct {
	c        *Client
	uploader *manager.Uploader
}

// NewWriter creates a Writer.
func NewWriter(c *Client) *Writer {
	return &Writer{
		c: c,
		uploader: manager.NewUploader(c.api, func(u *manager.Uploader) {
			u.PartSize = archivePartSize
			u.Concurrency = 2
		}),
	}
}

// Put uploads data to path. Archive objects are immutable once written.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(w.c.bucket),
		Key:          aws.String(w.c.Key(path)),
		Body:         data,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
		Metadata:     map[string]string{"producer": "priceoracle"},
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
