// Package transfer performs the download-then-upload cycle for build
// artifacts, with retry, progress reporting and registry status updates.
package transfer

import (
	"errors"
	"fmt"
	"regexp"

	"buildops/src/contracts"
)

var (
	ErrMissingField     = errors.New("missing required build field")
	ErrNamingValidation = errors.New("artifact file name failed validation")
)

// shortProfiles maps long build profile names to the short form used in
// artifact file names. Unknown profiles pass through unchanged.
var shortProfiles = map[string]string{
	"development": "dev",
	"staging":     "stage",
	"production":  "prod",
}

var extensions = map[contracts.Platform]string{
	contracts.PlatformAndroid: "apk",
	contracts.PlatformIOS:     "ipa",
}

// namePattern matches the artifact naming template:
// {platform}-{shortProfile}-v{appVersion}-{buildNumber}-{fingerprint[0:7]}.{ext}
var namePattern = regexp.MustCompile(`^(android|ios)-[^-\s]+-v[^-\s]+-[^-\s]+-[0-9a-fA-F]{7}\.(apk|ipa)$`)

// FileName derives the canonical artifact file name from build metadata.
// BuildNumber and CommitFingerprint are mandatory: without them the name
// would not be unique, so their absence is ErrMissingField. The result is
// deterministic for identical input.
func FileName(meta contracts.BuildMetadata) (string, error) {
	if !meta.Platform.Valid() {
		return "", fmt.Errorf("%w: platform", ErrMissingField)
	}
	if meta.BuildNumber == "" {
		return "", fmt.Errorf("%w: buildNumber", ErrMissingField)
	}
	if meta.CommitFingerprint == "" {
		return "", fmt.Errorf("%w: commitFingerprint", ErrMissingField)
	}

	fingerprint := meta.CommitFingerprint
	if len(fingerprint) > 7 {
		fingerprint = fingerprint[:7]
	}

	name := fmt.Sprintf("%s-%s-v%s-%s-%s.%s",
		meta.Platform,
		shortProfile(meta.Profile),
		meta.AppVersion,
		meta.BuildNumber,
		fingerprint,
		extensions[meta.Platform],
	)
	return name, nil
}

// ValidFileName reports whether name conforms to the naming template. The
// downloader re-checks its own output with this after every download.
func ValidFileName(name string) bool {
	return namePattern.MatchString(name)
}

func shortProfile(profile string) string {
	if short, ok := shortProfiles[profile]; ok {
		return short
	}
	return profile
}
