// Package storage abstracts the cloud object storage that build artifacts are
// pushed to. Non-production implementations are used for testing.
package storage

import (
	"context"
	"io"
)

// Client is the object storage surface consumed by the transfer worker.
// Credential resolution belongs to the implementation, not the caller.
type Client interface {
	io.Closer

	// NewWriter opens a writer for the named blob. Metadata is attached at
	// write time. The blob becomes visible once the writer is closed
	// without error.
	NewWriter(ctx context.Context, blobName string, metadata map[string]string) (io.WriteCloser, error)

	// SetTags attaches tags to an existing blob. Failures here never
	// invalidate the upload itself.
	SetTags(ctx context.Context, blobName string, tags map[string]string) error

	// BlobExists reports whether the named blob exists.
	BlobExists(ctx context.Context, blobName string) (bool, error)

	// BlobURL returns the public URL of the named blob.
	BlobURL(blobName string) string
}
