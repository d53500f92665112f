package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

// MultipartThreshold is the snapshot size from which Put switches to a
// multipart upload.
const MultipartThreshold = 2 * minPartSize

// Writer uploads and deletes snapshot objects in the archive bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

// NewWriter creates a Writer over the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.S3(), bucket: c.Bucket()}
}

// Put stores data at key. Readers that report a length of at least
// MultipartThreshold are sent through PutMultipart.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if sized, ok := data.(interface{ Len() int }); ok && int64(sized.Len()) >= MultipartThreshold {
		return w.PutMultipart(ctx, key, data, contentType, minPartSize)
	}
	if _, err := w.api.PutObject(ctx, w.putInput(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads data in parts of partSize bytes, raised to the 5 MiB
// minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, contentType string, partSize int64) error {
	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.putInput(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

// Delete removes the object at key. Deleting a missing key succeeds.
func (w *Writer) Delete(ctx context.Context, key string) error {
	_, err := w.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete %s: %w", key, err)
	}
	return nil
}

func (w *Writer) putInput(key string, data io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	}
}

var (
	_ domain.BlobWriter  = (*Writer)(nil)
	_ domain.BlobDeleter = (*Writer)(nil)
	_ domain.BlobReader  = (*Reader)(nil)
)
