// Package contracts defines the shared value types and topics used for
// communication between the background workers and the console front end.
package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies which mobile platform a build was produced for.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// ParsePlatform normalizes a platform string from user input or build lister
// output (which may be upper-cased, e.g. "ANDROID").
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "android":
		return PlatformAndroid, nil
	case "ios":
		return PlatformIOS, nil
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformAndroid || p == PlatformIOS
}

// BuildMetadata is the descriptive record for one build as returned by the
// external build lister. It carries no lifecycle state.
type BuildMetadata struct {
	// Unique identifier assigned by the build service.
	ID string `json:"id"`
	// Target platform.
	Platform Platform `json:"platform"`
	// Build profile (development, staging, production, ...).
	Profile string `json:"profile"`
	// Application version string (e.g. "1.2.3").
	AppVersion string `json:"app_version"`
	// Platform build number (versionCode / buildNumber).
	BuildNumber string `json:"build_number"`
	// Short git commit hash the build was produced from.
	CommitFingerprint string `json:"commit_fingerprint"`
	// Ephemeral download URL for the compiled artifact.
	SourceBuildURL string `json:"source_build_url"`
}

// TransferPhase names the two phases of a build transfer.
type TransferPhase string

const (
	PhaseDownload TransferPhase = "download"
	PhaseUpload   TransferPhase = "upload"
)

// TransferProgress is the ephemeral progress value delivered to callbacks
// during a download or upload. It is never persisted.
type TransferProgress struct {
	Phase   TransferPhase `json:"phase"`
	Percent int           `json:"percent"`
	Message string        `json:"message"`
}

// Transfer event statuses published on TopicTransfers.
const (
	TransferRunning   = "running"
	TransferSucceeded = "succeeded"
	TransferFailed    = "failed"
)

// TransferEvent is published to the event broker for every progress update
// and for the terminal outcome of a transfer. The front end consumes these
// instead of sharing mutable state with the workers.
type TransferEvent struct {
	// Unique event identifier.
	ID string `json:"id"`
	// Target platform of the build being transferred.
	Platform Platform `json:"platform"`
	// Build identifier in the registry.
	BuildID string `json:"build_id"`
	// Phase the event belongs to.
	Phase TransferPhase `json:"phase"`
	// Completion percentage, 0-100.
	Percent int `json:"percent"`
	// Human-readable progress or outcome message.
	Message string `json:"message"`
	// One of TransferRunning, TransferSucceeded, TransferFailed.
	Status string `json:"status"`
	// Error text, set only when Status is TransferFailed.
	Error string `json:"error,omitempty"`
	// Time the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Broker topics.
const (
	// TopicTransfers carries TransferEvent messages.
	TopicTransfers = "console.transfers"
)
