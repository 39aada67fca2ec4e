// Package store persists the history of completed build transfers: which
// artifact went where, and when. The live transfer state itself is
// process-local and never persisted.
package store

import (
	"context"
	"time"
)

// TransferRecord is the durable record of one successful upload.
type TransferRecord struct {
	// Unique record identifier.
	ID string `json:"id"`
	// Platform of the transferred build.
	Platform string `json:"platform"`
	// Build identifier from the build service.
	BuildID string `json:"build_id"`
	// Canonical artifact file name.
	FileName string `json:"file_name"`
	// Final blob URL in object storage.
	RemoteURL string `json:"remote_url"`
	// Who performed the upload.
	UploadedBy string `json:"uploaded_by"`
	// When the upload finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Store is the interface for persisting transfer history.
type Store interface {
	// SaveTransfer records one completed upload.
	SaveTransfer(ctx context.Context, rec *TransferRecord) error

	// ListTransfers returns records for a platform, newest first. An
	// empty platform returns everything.
	ListTransfers(ctx context.Context, platform string) ([]TransferRecord, error)

	// Close closes the store connection.
	Close() error
}
