// Package registry holds the in-memory catalog of known builds per platform
// and enforces the artifact status machine. The registry is the single writer
// for all lifecycle fields; transfer workers mutate artifacts only through
// Transition.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"buildops/src/contracts"
)

var (
	ErrNotFound          = errors.New("build not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a build artifact.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusUploading   Status = "uploading"
	StatusUploaded    Status = "uploaded"
	StatusError       Status = "error"
)

// allowedFrom maps a target status to the set of statuses a build may move
// from. StatusAvailable is absent: it is only ever assigned at registration.
// StatusError appears as a source so a failed download or upload can be
// re-invoked manually; Transition additionally requires the retried
// operation to match FailedFrom, so a download failure can never be
// retried as an upload.
var allowedFrom = map[Status][]Status{
	StatusDownloading: {StatusAvailable, StatusError},
	StatusDownloaded:  {StatusDownloading},
	StatusUploading:   {StatusDownloaded, StatusError},
	StatusUploaded:    {StatusUploading},
	StatusError:       {StatusDownloading, StatusUploading},
}

// BuildArtifact is one build produced by the external build system, plus its
// transfer lifecycle state. LocalPath is set exactly while the status is
// downloaded, uploading or uploaded; RemoteURL is set exactly while uploaded.
type BuildArtifact struct {
	ID                string             `json:"id"`
	Platform          contracts.Platform `json:"platform"`
	Profile           string             `json:"profile"`
	AppVersion        string             `json:"app_version"`
	BuildNumber       string             `json:"build_number"`
	CommitFingerprint string             `json:"commit_fingerprint"`
	SourceBuildURL    string             `json:"source_build_url"`

	Status    Status `json:"status"`
	LocalPath string `json:"local_path,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
	LastError string `json:"last_error,omitempty"`
	// FailedFrom is the in-progress status the build failed out of. Set
	// exactly while Status is StatusError; it pins which operation a
	// manual retry may re-invoke.
	FailedFrom Status `json:"failed_from,omitempty"`
}

// Metadata returns the descriptive fields of the artifact as build metadata.
func (b BuildArtifact) Metadata() contracts.BuildMetadata {
	return contracts.BuildMetadata{
		ID:                b.ID,
		Platform:          b.Platform,
		Profile:           b.Profile,
		AppVersion:        b.AppVersion,
		BuildNumber:       b.BuildNumber,
		CommitFingerprint: b.CommitFingerprint,
		SourceBuildURL:    b.SourceBuildURL,
	}
}

// Fields carries the lifecycle values applied when entering a status.
// Only the field relevant to the target status is consulted.
type Fields struct {
	// LocalPath of the downloaded artifact. Required when entering
	// StatusDownloaded, and when entering StatusUploading for a manual
	// retry after an upload failure.
	LocalPath string
	// RemoteURL of the uploaded blob. Required when entering StatusUploaded.
	RemoteURL string
	// LastError describes the failure. Required when entering StatusError.
	LastError string
}

type key struct {
	platform contracts.Platform
	id       string
}

// Registry is a thread-safe catalog of build artifacts keyed by
// (platform, id). Process lifetime only; nothing is persisted.
type Registry struct {
	mu     sync.RWMutex
	builds map[key]*BuildArtifact
}

func New() *Registry {
	return &Registry{builds: make(map[key]*BuildArtifact)}
}

// Register inserts a build or refreshes the descriptive fields of an existing
// one. Lifecycle fields of an entry that has moved past StatusAvailable are
// left untouched, so re-fetching the build list cannot clobber an in-flight
// or completed transfer. Idempotent per (platform, id).
func (r *Registry) Register(meta contracts.BuildMetadata) error {
	if !meta.Platform.Valid() {
		return fmt.Errorf("register %q: unknown platform %q", meta.ID, meta.Platform)
	}
	if meta.ID == "" {
		return fmt.Errorf("register: build id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{platform: meta.Platform, id: meta.ID}
	if existing, ok := r.builds[k]; ok {
		existing.Profile = meta.Profile
		existing.AppVersion = meta.AppVersion
		existing.BuildNumber = meta.BuildNumber
		existing.CommitFingerprint = meta.CommitFingerprint
		existing.SourceBuildURL = meta.SourceBuildURL
		return nil
	}

	r.builds[k] = &BuildArtifact{
		ID:                meta.ID,
		Platform:          meta.Platform,
		Profile:           meta.Profile,
		AppVersion:        meta.AppVersion,
		BuildNumber:       meta.BuildNumber,
		CommitFingerprint: meta.CommitFingerprint,
		SourceBuildURL:    meta.SourceBuildURL,
		Status:            StatusAvailable,
	}
	return nil
}

// Get returns a snapshot of the build, or ErrNotFound.
func (r *Registry) Get(platform contracts.Platform, id string) (BuildArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builds[key{platform: platform, id: id}]
	if !ok {
		return BuildArtifact{}, fmt.Errorf("%w: %s/%s", ErrNotFound, platform, id)
	}
	return *b, nil
}

// Transition atomically moves a build to the next status. The current status
// is checked against the machine's allowed edges under the lock, so two
// workers racing to start the same download or upload cannot both win: the
// loser gets ErrInvalidTransition. Lifecycle fields are rewritten on every
// state entry to keep the LocalPath/RemoteURL invariants.
func (r *Registry) Transition(platform contracts.Platform, id string, next Status, fields Fields) (BuildArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.builds[key{platform: platform, id: id}]
	if !ok {
		return BuildArtifact{}, fmt.Errorf("%w: %s/%s", ErrNotFound, platform, id)
	}

	if !transitionAllowed(b.Status, next) {
		return *b, fmt.Errorf("%w: %s/%s cannot move %s -> %s",
			ErrInvalidTransition, platform, id, b.Status, next)
	}

	// Out of error, only the operation that failed may be re-invoked: a
	// build whose download failed was never downloaded and must not start
	// uploading.
	if b.Status == StatusError && next != b.FailedFrom {
		return *b, fmt.Errorf("%w: %s/%s failed while %s, cannot move error -> %s",
			ErrInvalidTransition, platform, id, b.FailedFrom, next)
	}

	prev := b.Status
	b.Status = next
	b.LastError = ""
	b.FailedFrom = ""
	switch next {
	case StatusDownloading:
		b.LocalPath = ""
		b.RemoteURL = ""
	case StatusDownloaded:
		b.LocalPath = fields.LocalPath
		b.RemoteURL = ""
	case StatusUploading:
		b.LocalPath = fields.LocalPath
		b.RemoteURL = ""
	case StatusUploaded:
		b.RemoteURL = fields.RemoteURL
	case StatusError:
		b.LocalPath = ""
		b.RemoteURL = ""
		b.LastError = fields.LastError
		b.FailedFrom = prev
	}
	return *b, nil
}

func transitionAllowed(current, next Status) bool {
	for _, from := range allowedFrom[next] {
		if from == current {
			return true
		}
	}
	return false
}

// Builds returns a snapshot of all builds for a platform.
func (r *Registry) Builds(platform contracts.Platform) []BuildArtifact {
	return r.Filter(platform, nil)
}

// Filter returns a snapshot of the builds for a platform matching the
// predicate. The predicate runs on a copy, outside the registry lock, so it
// may be arbitrarily slow without blocking workers. A nil predicate matches
// everything.
func (r *Registry) Filter(platform contracts.Platform, pred func(BuildArtifact) bool) []BuildArtifact {
	r.mu.RLock()
	snapshot := make([]BuildArtifact, 0, len(r.builds))
	for k, b := range r.builds {
		if k.platform == platform {
			snapshot = append(snapshot, *b)
		}
	}
	r.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	if pred == nil {
		return snapshot
	}
	matched := snapshot[:0]
	for _, b := range snapshot {
		if pred(b) {
			matched = append(matched, b)
		}
	}
	return matched
}
