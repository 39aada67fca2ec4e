package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	"buildops/src/transient"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"nil", nil, false},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"permission denied", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"wrapped api error", fmt.Errorf("put: %w", &googleapi.Error{Code: 502}), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if tc.err == nil {
				if got != nil {
					t.Fatalf("classify(nil) = %v, want nil", got)
				}
				return
			}
			if transient.IsTransient(got) != tc.wantTransient {
				t.Errorf("classify(%v) transient = %v, want %v", tc.err, transient.IsTransient(got), tc.wantTransient)
			}
			if !errors.Is(got, tc.err) && !errors.As(got, new(*googleapi.Error)) {
				t.Errorf("classify(%v) lost the original error: %v", tc.err, got)
			}
		})
	}
}

func TestBlobURL(t *testing.T) {
	c := &GCSClient{bucket: "release-artifacts"}
	want := "https://storage.googleapis.com/release-artifacts/android-builds/app.apk"
	if got := c.BlobURL("android-builds/app.apk"); got != want {
		t.Errorf("BlobURL = %q, want %q", got, want)
	}
}
