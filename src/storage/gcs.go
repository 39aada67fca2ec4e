package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"buildops/src/transient"
)

// GCSClient implements Client on Google Cloud Storage. One client serves one
// bucket; credentials are resolved from the environment by the storage SDK.
type GCSClient struct {
	client *gcs.Client
	bucket string
}

func NewGCSClient(ctx context.Context, bucket string) (*GCSClient, error) {
	if bucket == "" {
		return nil, errors.New("storage bucket name is required")
	}
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSClient{client: c, bucket: bucket}, nil
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

func (c *GCSClient) NewWriter(ctx context.Context, blobName string, metadata map[string]string) (io.WriteCloser, error) {
	w := c.client.Bucket(c.bucket).Object(blobName).NewWriter(ctx)
	// Match the transfer worker's chunking so one Write maps to one
	// network flush.
	w.ChunkSize = 1 << 20
	w.Metadata = metadata
	return &classifyingWriter{w: w}, nil
}

// SetTags stores tags as metadata entries on the object. GCS has no separate
// tagging API, so tags and metadata share the key space.
func (c *GCSClient) SetTags(ctx context.Context, blobName string, tags map[string]string) error {
	obj := c.client.Bucket(c.bucket).Object(blobName)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return classify(err)
	}
	merged := make(map[string]string, len(attrs.Metadata)+len(tags))
	for k, v := range attrs.Metadata {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	if _, err := obj.Update(ctx, gcs.ObjectAttrsToUpdate{Metadata: merged}); err != nil {
		return classify(err)
	}
	return nil
}

func (c *GCSClient) BlobExists(ctx context.Context, blobName string) (bool, error) {
	_, err := c.client.Bucket(c.bucket).Object(blobName).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, classify(err)
}

func (c *GCSClient) BlobURL(blobName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucket, blobName)
}

// classifyingWriter tags errors from the underlying storage writer so the
// transfer worker's retry loop can tell retryable failures apart.
type classifyingWriter struct {
	w *gcs.Writer
}

func (cw *classifyingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	return n, classify(err)
}

func (cw *classifyingWriter) Close() error {
	return classify(cw.w.Close())
}

// classify wraps retryable storage failures as transient. Rate limiting and
// server-side errors are retryable; other API errors (permissions, bad
// requests) are not. Errors that never reached the API, such as connection
// resets, are assumed transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return transient.Wrap(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return transient.Wrap(err)
}
