// Package buildlister invokes the external build service CLI and parses the
// build metadata it prints. The CLI is free to mix diagnostic text with its
// JSON output; the lister extracts the structured array before decoding.
package buildlister

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"buildops/src/contracts"
	"buildops/src/logger"
)

// DefaultTimeout bounds one build-list invocation.
const DefaultTimeout = 60 * time.Second

var ErrNoJSONArray = errors.New("no JSON array found in build lister output")

// Lister fetches build metadata for a platform.
type Lister interface {
	ListBuilds(ctx context.Context, platform contracts.Platform) ([]contracts.BuildMetadata, error)
}

// listedBuild mirrors the build lister CLI's JSON record shape.
type listedBuild struct {
	ID           string `json:"id"`
	Platform     string `json:"platform"`
	BuildProfile string `json:"buildProfile"`
	AppVersion   string `json:"appVersion"`
	BuildNumber  string `json:"appBuildVersion"`
	GitCommit    string `json:"gitCommitHash"`
	Artifacts    struct {
		BuildURL string `json:"buildUrl"`
	} `json:"artifacts"`
}

// CLILister shells out to the build service CLI.
type CLILister struct {
	command string
	args    []string
	timeout time.Duration
	log     logger.Logger
}

// NewCLILister creates a lister that runs command with the given base
// arguments; the platform and JSON flags are appended per call.
func NewCLILister(command string, args []string, log logger.Logger) *CLILister {
	return &CLILister{
		command: command,
		args:    args,
		timeout: DefaultTimeout,
		log:     log,
	}
}

func (l *CLILister) ListBuilds(ctx context.Context, platform contracts.Platform) ([]contracts.BuildMetadata, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("unknown platform: %q", platform)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := append(append([]string{}, l.args...), "--platform", string(platform), "--json")
	cmd := exec.CommandContext(ctx, l.command, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("build lister failed: %v: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("build lister failed: %w", err)
	}

	raw, err := ExtractJSONArray(out)
	if err != nil {
		return nil, err
	}

	var listed []listedBuild
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("failed to decode build list: %w", err)
	}

	builds := make([]contracts.BuildMetadata, 0, len(listed))
	for _, b := range listed {
		p, err := contracts.ParsePlatform(b.Platform)
		if err != nil {
			l.log.Warn("skipping build %s: %v", b.ID, err)
			continue
		}
		if p != platform {
			continue
		}
		builds = append(builds, contracts.BuildMetadata{
			ID:                b.ID,
			Platform:          p,
			Profile:           b.BuildProfile,
			AppVersion:        b.AppVersion,
			BuildNumber:       b.BuildNumber,
			CommitFingerprint: b.GitCommit,
			SourceBuildURL:    b.Artifacts.BuildURL,
		})
	}

	l.log.Debug("build lister returned %d %s builds", len(builds), platform)
	return builds, nil
}

// ExtractJSONArray returns the first balanced bracket pair in out that is
// valid JSON. The build lister CLI prints update notices and progress text
// around its JSON, and diagnostic prefixes like "[expo-cli]" are themselves
// balanced bracket pairs, so every candidate is validated and the scan
// resumes past candidates that are not JSON.
func ExtractJSONArray(out []byte) ([]byte, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(out); i++ {
		c := out[i]
		if start == -1 {
			if c == '[' {
				start = i
				depth = 1
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					candidate := out[start : i+1]
					if json.Valid(candidate) {
						return candidate, nil
					}
					start = -1
					inString = false
					escaped = false
				}
			}
		}
	}
	return nil, ErrNoJSONArray
}
