package transfer

import (
	"context"
	"fmt"
	"path/filepath"

	"buildops/src/contracts"
	"buildops/src/logger"
	"buildops/src/registry"
)

// Worker runs the two-phase transfer cycle for build artifacts: download the
// artifact from the build service, then upload it to object storage. Each
// phase boundary is recorded in the registry, whose compare-and-set
// transitions also stop a second worker from picking up the same artifact.
type Worker struct {
	reg        *registry.Registry
	downloader *Downloader
	uploader   *Uploader
	log        logger.Logger
}

func NewWorker(reg *registry.Registry, downloader *Downloader, uploader *Uploader, log logger.Logger) *Worker {
	return &Worker{reg: reg, downloader: downloader, uploader: uploader, log: log}
}

// Download fetches the artifact for (platform, id) and returns its local
// path. Naming-contract violations are detected before the build leaves
// StatusAvailable; any failure after that moves the build to StatusError with
// the failure text and removes partial files.
func (w *Worker) Download(ctx context.Context, platform contracts.Platform, id string, onProgress ProgressFunc) (string, error) {
	b, err := w.reg.Get(platform, id)
	if err != nil {
		return "", err
	}
	meta := b.Metadata()

	// Validate the naming contract up front so a build with missing
	// mandatory fields stays in its current status.
	if _, err := FileName(meta); err != nil {
		return "", err
	}

	if _, err := w.reg.Transition(platform, id, registry.StatusDownloading, registry.Fields{}); err != nil {
		return "", err
	}

	path, err := w.downloader.Download(ctx, meta, onProgress)
	if err != nil {
		w.fail(platform, id, err)
		return "", err
	}

	if _, err := w.reg.Transition(platform, id, registry.StatusDownloaded, registry.Fields{LocalPath: path}); err != nil {
		return "", err
	}
	w.log.Info("downloaded build %s/%s to %s", platform, id, path)
	return path, nil
}

// Upload pushes a previously downloaded artifact to object storage under
// {platform}-builds/{fileName} and returns the blob URL. The local path is
// passed explicitly so a manual retry after an upload failure can resume from
// the file that is already on disk.
func (w *Worker) Upload(ctx context.Context, platform contracts.Platform, id, localPath string, onProgress ProgressFunc) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("%w: localPath", ErrMissingField)
	}

	if _, err := w.reg.Transition(platform, id, registry.StatusUploading, registry.Fields{LocalPath: localPath}); err != nil {
		return "", err
	}

	blobName := fmt.Sprintf("%s-builds/%s", platform, filepath.Base(localPath))
	url, err := w.uploader.Upload(ctx, localPath, blobName, platform, onProgress)
	if err != nil {
		w.fail(platform, id, err)
		return "", err
	}

	if _, err := w.reg.Transition(platform, id, registry.StatusUploaded, registry.Fields{RemoteURL: url}); err != nil {
		return "", err
	}
	w.log.Info("uploaded build %s/%s to %s", platform, id, url)
	return url, nil
}

func (w *Worker) fail(platform contracts.Platform, id string, cause error) {
	if _, err := w.reg.Transition(platform, id, registry.StatusError, registry.Fields{LastError: cause.Error()}); err != nil {
		w.log.Error("failed to record error for %s/%s: %v", platform, id, err)
	}
}
