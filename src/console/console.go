// Package console is the application core behind the ops console: it ties the
// build registry, the transfer workers, the log streaming manager, the event
// broker and the transfer history store together behind one API.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"buildops/src/broker"
	"buildops/src/buildlister"
	"buildops/src/contracts"
	"buildops/src/installer"
	"buildops/src/logger"
	"buildops/src/logstream"
	"buildops/src/registry"
	"buildops/src/store"
	"buildops/src/transfer"
)

// Console coordinates build transfers and log streams. Methods are safe for
// concurrent use; long-running operations report through channels and
// callbacks rather than blocking the caller.
type Console struct {
	registry  *registry.Registry
	lister    buildlister.Lister
	worker    *transfer.Worker
	streams   *logstream.Manager
	events    broker.Broker
	history   store.Store
	installer *installer.Installer
	log       logger.Logger

	// uploadedBy is recorded on transfer history entries.
	uploadedBy string
}

// New assembles a console from its collaborators.
func New(
	reg *registry.Registry,
	lister buildlister.Lister,
	worker *transfer.Worker,
	streams *logstream.Manager,
	events broker.Broker,
	history store.Store,
	inst *installer.Installer,
	uploadedBy string,
	log logger.Logger,
) *Console {
	return &Console{
		registry:   reg,
		lister:     lister,
		worker:     worker,
		streams:    streams,
		events:     events,
		history:    history,
		installer:  inst,
		uploadedBy: uploadedBy,
		log:        log,
	}
}

// FetchBuilds asks the external build service for the latest builds on a
// platform and registers any it has not seen before. Builds already mid
// transfer keep their lifecycle state.
func (c *Console) FetchBuilds(ctx context.Context, platform contracts.Platform) ([]registry.BuildArtifact, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("unknown platform: %q", platform)
	}

	metas, err := c.lister.ListBuilds(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}

	for _, meta := range metas {
		if err := c.registry.Register(meta); err != nil {
			c.log.Warn("Skipping build %s: %v", meta.ID, err)
		}
	}

	c.log.Info("Fetched %d %s builds", len(metas), platform)
	return c.registry.Builds(platform), nil
}

// DownloadBuild starts a background download of a build's artifact. The
// returned channel delivers the terminal result exactly once. Progress is
// forwarded to onProgress (which may be nil) and published on the event
// broker.
func (c *Console) DownloadBuild(ctx context.Context, platform contracts.Platform, id string, onProgress transfer.ProgressFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := c.worker.Download(ctx, platform, id, c.wrapProgress(platform, id, onProgress))
		c.publishOutcome(ctx, platform, id, contracts.PhaseDownload, err)
		done <- err
	}()
	return done
}

// UploadBuild starts a background upload of a previously downloaded artifact
// to object storage. On success the final location is saved to the transfer
// history store. The returned channel delivers the terminal result exactly
// once.
func (c *Console) UploadBuild(ctx context.Context, platform contracts.Platform, id, localPath string, onProgress transfer.ProgressFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		remoteURL, err := c.worker.Upload(ctx, platform, id, localPath, c.wrapProgress(platform, id, onProgress))
		c.publishOutcome(ctx, platform, id, contracts.PhaseUpload, err)
		if err == nil {
			c.recordTransfer(ctx, platform, id, localPath, remoteURL)
		}
		done <- err
	}()
	return done
}

// InstallBuild installs a downloaded artifact onto a connected device.
func (c *Console) InstallBuild(ctx context.Context, platform contracts.Platform, id string) error {
	artifact, err := c.registry.Get(platform, id)
	if err != nil {
		return err
	}
	if artifact.LocalPath == "" {
		return fmt.Errorf("build %s has no downloaded artifact to install", id)
	}
	return c.installer.Install(ctx, platform, artifact.LocalPath)
}

// StartLogStream opens a live log stream for a target service. It fails with
// logstream.ErrTooManyStreams when the concurrency cap is reached.
func (c *Console) StartLogStream(target string, onLine func(logstream.LogLine), onError func(error)) (*logstream.Session, error) {
	return c.streams.Start(target, onLine, onError)
}

// StopLogStream stops the stream for a target, releasing its slot.
func (c *Console) StopLogStream(target string) error {
	return c.streams.Stop(target)
}

// GetBuilds returns the current snapshot of registered builds for a platform.
func (c *Console) GetBuilds(platform contracts.Platform) []registry.BuildArtifact {
	return c.registry.Builds(platform)
}

// FilterBuilds returns builds whose id, version, profile or status contains
// the query, case-insensitively. An empty query matches everything.
func (c *Console) FilterBuilds(platform contracts.Platform, query string) []registry.BuildArtifact {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.registry.Builds(platform)
	}
	return c.registry.Filter(platform, func(b registry.BuildArtifact) bool {
		return strings.Contains(strings.ToLower(b.ID), q) ||
			strings.Contains(strings.ToLower(b.AppVersion), q) ||
			strings.Contains(strings.ToLower(b.Profile), q) ||
			strings.Contains(strings.ToLower(string(b.Status)), q)
	})
}

// ListTransferHistory returns past successful uploads, newest first.
func (c *Console) ListTransferHistory(ctx context.Context, platform string) ([]store.TransferRecord, error) {
	return c.history.ListTransfers(ctx, platform)
}

// Close stops all log streams and releases broker and store connections.
func (c *Console) Close() error {
	c.streams.StopAll()
	var firstErr error
	if err := c.events.Close(); err != nil {
		firstErr = err
	}
	if err := c.history.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// wrapProgress forwards progress to the caller and mirrors it onto the event
// broker so detached consumers can follow transfers.
func (c *Console) wrapProgress(platform contracts.Platform, id string, onProgress transfer.ProgressFunc) transfer.ProgressFunc {
	return func(p contracts.TransferProgress) {
		c.publish(context.Background(), contracts.TransferEvent{
			ID:        uuid.New().String(),
			Platform:  platform,
			BuildID:   id,
			Phase:     p.Phase,
			Percent:   p.Percent,
			Message:   p.Message,
			Status:    contracts.TransferRunning,
			Timestamp: time.Now(),
		})
		if onProgress != nil {
			onProgress(p)
		}
	}
}

func (c *Console) publishOutcome(ctx context.Context, platform contracts.Platform, id string, phase contracts.TransferPhase, err error) {
	event := contracts.TransferEvent{
		ID:        uuid.New().String(),
		Platform:  platform,
		BuildID:   id,
		Phase:     phase,
		Percent:   100,
		Status:    contracts.TransferSucceeded,
		Timestamp: time.Now(),
	}
	if err != nil {
		event.Percent = 0
		event.Status = contracts.TransferFailed
		event.Error = err.Error()
	}
	c.publish(ctx, event)
}

func (c *Console) publish(ctx context.Context, event contracts.TransferEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.log.Error("Failed to marshal transfer event: %v", err)
		return
	}
	if err := c.events.Publish(ctx, contracts.TopicTransfers, event.BuildID, payload); err != nil {
		c.log.Warn("Failed to publish transfer event for build %s: %v", event.BuildID, err)
	}
}

func (c *Console) recordTransfer(ctx context.Context, platform contracts.Platform, id, localPath, remoteURL string) {
	rec := &store.TransferRecord{
		ID:          uuid.New().String(),
		Platform:    string(platform),
		BuildID:     id,
		FileName:    filepath.Base(localPath),
		RemoteURL:   remoteURL,
		UploadedBy:  c.uploadedBy,
		CompletedAt: time.Now(),
	}
	if err := c.history.SaveTransfer(ctx, rec); err != nil {
		c.log.Warn("Failed to record transfer for build %s: %v", id, err)
	}
}
