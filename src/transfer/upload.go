package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"buildops/src/contracts"
	"buildops/src/logger"
	"buildops/src/storage"
	"buildops/src/transient"
)

const (
	// UploadChunkSize is the fixed write size per storage call.
	UploadChunkSize = 1 << 20

	// DefaultUploadAttempts bounds retries on transient storage failures.
	DefaultUploadAttempts = 3

	// DefaultBaseDelay is the unit for linear retry backoff: the wait after
	// attempt n is n * DefaultBaseDelay.
	DefaultBaseDelay = time.Second
)

// Uploader pushes downloaded artifacts to object storage in fixed-size
// chunks, retrying transient failures from the start of the file.
type Uploader struct {
	store       storage.Client
	log         logger.Logger
	uploadedBy  string
	chunkSize   int
	maxAttempts int
	baseDelay   time.Duration
}

func NewUploader(store storage.Client, uploadedBy string, log logger.Logger) *Uploader {
	return &Uploader{
		store:       store,
		log:         log,
		uploadedBy:  uploadedBy,
		chunkSize:   UploadChunkSize,
		maxAttempts: DefaultUploadAttempts,
		baseDelay:   DefaultBaseDelay,
	}
}

// Upload writes the file at localPath to object storage under blobName and
// returns the blob URL. Transient failures are retried up to the attempt
// budget with linear backoff; every retry re-seeks the source to byte 0 and
// restarts progress from 0. Tag attachment failures are logged and ignored:
// the upload succeeded the moment the blob exists.
func (u *Uploader) Upload(ctx context.Context, localPath, blobName string, platform contracts.Platform, onProgress ProgressFunc) (string, error) {
	report := progressReporter(onProgress)

	url, err := u.upload(ctx, localPath, blobName, platform, report)
	if err != nil {
		report(contracts.PhaseUpload, 0, fmt.Sprintf("upload failed: %v", err))
		return "", err
	}
	report(contracts.PhaseUpload, 100, "upload complete")
	return url, nil
}

func (u *Uploader) upload(ctx context.Context, localPath, blobName string, platform contracts.Platform, report reportFunc) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}
	size := fi.Size()

	metadata := map[string]string{
		"uploaded-by": u.uploadedBy,
		"platform":    string(platform),
		"uploaded-on": strconv.FormatInt(time.Now().Unix(), 10),
	}

	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to rewind artifact: %w", err)
		}

		err := u.putOnce(ctx, f, size, blobName, metadata, report)
		if err == nil {
			return u.finalize(ctx, blobName, metadata)
		}
		if !transient.IsTransient(err) {
			return "", err
		}
		lastErr = err

		if attempt < u.maxAttempts {
			delay := time.Duration(attempt) * u.baseDelay
			u.log.Warn("upload of %s failed (attempt %d/%d), retrying in %s: %v",
				blobName, attempt, u.maxAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("upload failed after %d attempts: %w", u.maxAttempts, lastErr)
}

func (u *Uploader) putOnce(ctx context.Context, f *os.File, size int64, blobName string, metadata map[string]string, report reportFunc) error {
	w, err := u.store.NewWriter(ctx, blobName, metadata)
	if err != nil {
		return err
	}

	var sent int64
	buf := make([]byte, u.chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				w.Close()
				return writeErr
			}
			sent += int64(n)
			report(contracts.PhaseUpload, percent(sent, size), fmt.Sprintf("uploaded %d bytes", sent))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			w.Close()
			return fmt.Errorf("failed to read artifact: %w", readErr)
		}
	}
	return w.Close()
}

// finalize verifies the blob and attaches tags. Existence defines success;
// the tag update is best effort.
func (u *Uploader) finalize(ctx context.Context, blobName string, tags map[string]string) (string, error) {
	exists, err := u.store.BlobExists(ctx, blobName)
	if err != nil {
		return "", fmt.Errorf("failed to verify uploaded blob: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("blob %s missing after upload", blobName)
	}

	if err := u.store.SetTags(ctx, blobName, tags); err != nil {
		u.log.Warn("failed to tag blob %s: %v", blobName, err)
	}

	return u.store.BlobURL(blobName), nil
}
