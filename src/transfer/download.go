package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"buildops/src/contracts"
	"buildops/src/logger"
)

const (
	// ConnectTimeout bounds connection establishment and response headers;
	// the body transfer itself may take as long as it needs.
	ConnectTimeout = 30 * time.Second

	downloadChunkSize = 64 * 1024
)

// ProgressFunc receives transfer progress updates. It is invoked at least
// once per chunk and exactly once with the terminal outcome, always from the
// single goroutine driving the transfer.
type ProgressFunc func(contracts.TransferProgress)

// Downloader streams build artifacts from their ephemeral source URLs into a
// local directory, enforcing the artifact naming template.
type Downloader struct {
	client *http.Client
	dir    string
	log    logger.Logger
}

// NewDownloader creates a downloader that writes into dir. The directory is
// created on first use.
func NewDownloader(dir string, log logger.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
				ResponseHeaderTimeout: ConnectTimeout,
			},
		},
		dir: dir,
		log: log,
	}
}

// Download streams the artifact for meta into the download directory and
// returns the local path. The file name is derived from the naming template
// before any network activity, so a build with missing mandatory fields fails
// without creating a file. A failed download never leaves a partial file
// behind.
func (d *Downloader) Download(ctx context.Context, meta contracts.BuildMetadata, onProgress ProgressFunc) (string, error) {
	report := progressReporter(onProgress)

	name, err := FileName(meta)
	if err != nil {
		report(contracts.PhaseDownload, 0, fmt.Sprintf("download failed: %v", err))
		return "", err
	}
	if meta.SourceBuildURL == "" {
		err := fmt.Errorf("%w: sourceBuildUrl", ErrMissingField)
		report(contracts.PhaseDownload, 0, fmt.Sprintf("download failed: %v", err))
		return "", err
	}

	path, err := d.fetch(ctx, meta.SourceBuildURL, name, report)
	if err != nil {
		report(contracts.PhaseDownload, 0, fmt.Sprintf("download failed: %v", err))
		return "", err
	}

	// The produced name must validate against the template it was built
	// from. A mismatch means the template and validator have drifted, and
	// the file cannot be trusted.
	if !ValidFileName(filepath.Base(path)) {
		os.Remove(path)
		err := fmt.Errorf("%w: %s", ErrNamingValidation, filepath.Base(path))
		report(contracts.PhaseDownload, 0, fmt.Sprintf("download failed: %v", err))
		return "", err
	}

	report(contracts.PhaseDownload, 100, "download complete")
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, url, name string, report reportFunc) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact download returned status %d", resp.StatusCode)
	}

	dest := filepath.Join(d.dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}

	total := resp.ContentLength
	var received int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(dest)
				return "", fmt.Errorf("failed to write artifact: %w", writeErr)
			}
			received += int64(n)
			report(contracts.PhaseDownload, percent(received, total), fmt.Sprintf("downloaded %d bytes", received))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(dest)
			return "", fmt.Errorf("artifact download interrupted: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to finalize %s: %w", dest, err)
	}

	d.log.Debug("downloaded %s (%d bytes)", dest, received)
	return dest, nil
}

// percent computes floor(received/total*100) clamped to [0,100]. With an
// unknown or zero total, progress stays at 0 until completion.
func percent(received, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(received * 100 / total)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

type reportFunc func(phase contracts.TransferPhase, percent int, message string)

func progressReporter(onProgress ProgressFunc) reportFunc {
	return func(phase contracts.TransferPhase, pct int, message string) {
		if onProgress == nil {
			return
		}
		onProgress(contracts.TransferProgress{Phase: phase, Percent: pct, Message: message})
	}
}
