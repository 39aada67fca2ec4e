package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"buildops/src/contracts"
	"buildops/src/logger"
	"buildops/src/transient"
)

// fakeStorage records every upload attempt so tests can assert on retry
// behavior and re-seek semantics.
type fakeStorage struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	tags     map[string]map[string]string
	failPuts int
	attempts [][]byte
	tagErr   error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		blobs: make(map[string][]byte),
		tags:  make(map[string]map[string]string),
	}
}

func (s *fakeStorage) NewWriter(ctx context.Context, blobName string, metadata map[string]string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, nil)
	fail := s.failPuts > 0
	if fail {
		s.failPuts--
	}
	return &fakeWriter{s: s, blob: blobName, idx: len(s.attempts) - 1, fail: fail}, nil
}

func (s *fakeStorage) SetTags(ctx context.Context, blobName string, tags map[string]string) error {
	if s.tagErr != nil {
		return s.tagErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[blobName] = tags
	return nil
}

func (s *fakeStorage) BlobExists(ctx context.Context, blobName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[blobName]
	return ok, nil
}

func (s *fakeStorage) BlobURL(blobName string) string {
	return "https://storage.example.com/test-bucket/" + blobName
}

func (s *fakeStorage) Close() error { return nil }

type fakeWriter struct {
	s    *fakeStorage
	blob string
	idx  int
	fail bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.attempts[w.idx] = append(w.s.attempts[w.idx], p...)
	if w.fail {
		return 0, transient.Wrap(errors.New("connection reset by peer"))
	}
	return len(p), nil
}

func (w *fakeWriter) Close() error {
	if w.fail {
		return transient.Wrap(errors.New("connection reset by peer"))
	}
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.blobs[w.blob] = append([]byte(nil), w.s.attempts[w.idx]...)
	return nil
}

func writeTestArtifact(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "android-dev-v1.2.3-42-abcdef1.apk")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}
	return path
}

func newTestUploader(store *fakeStorage) *Uploader {
	u := NewUploader(store, "buildops", logger.NewSilentLogger())
	u.baseDelay = time.Millisecond
	return u
}

func TestUpload(t *testing.T) {
	content := bytes.Repeat([]byte("artifact-bytes."), 1000)
	path := writeTestArtifact(t, content)
	store := newFakeStorage()
	u := newTestUploader(store)

	var updates []contracts.TransferProgress
	url, err := u.Upload(context.Background(), path, "android-builds/a.apk", contracts.PlatformAndroid, func(p contracts.TransferProgress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://storage.example.com/test-bucket/android-builds/a.apk" {
		t.Errorf("Upload() url = %q", url)
	}

	if !bytes.Equal(store.blobs["android-builds/a.apk"], content) {
		t.Error("stored blob does not match source content")
	}

	tags := store.tags["android-builds/a.apk"]
	if tags["uploaded-by"] != "buildops" || tags["platform"] != "android" {
		t.Errorf("blob tags = %v", tags)
	}
	if tags["uploaded-on"] == "" {
		t.Error("uploaded-on tag missing")
	}

	last := updates[len(updates)-1]
	if last.Percent != 100 || last.Phase != contracts.PhaseUpload {
		t.Errorf("terminal update = %+v, want upload at 100%%", last)
	}
}

// TestUploadRetry verifies the documented retry contract: with a storage that
// fails twice then succeeds, the upload takes exactly 3 attempts and each
// attempt re-reads the source from byte 0.
func TestUploadRetry(t *testing.T) {
	content := bytes.Repeat([]byte("chunk-data-"), 500)
	path := writeTestArtifact(t, content)
	store := newFakeStorage()
	store.failPuts = 2
	u := newTestUploader(store)

	var updates []contracts.TransferProgress
	_, err := u.Upload(context.Background(), path, "android-builds/a.apk", contracts.PlatformAndroid, func(p contracts.TransferProgress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if len(store.attempts) != 3 {
		t.Fatalf("storage saw %d attempts, want 3", len(store.attempts))
	}
	// Every attempt must start with the first bytes of the file, proving
	// the source was re-seeked to 0 before each retry.
	for i, attempt := range store.attempts {
		if len(attempt) == 0 || !bytes.HasPrefix(attempt, content[:16]) {
			t.Errorf("attempt %d did not restart from byte 0", i+1)
		}
	}

	// Percent resets to 0-relative values on each retry, so the sequence
	// is allowed to go backwards across attempts but must end at 100.
	if updates[len(updates)-1].Percent != 100 {
		t.Error("terminal update should report 100%")
	}
}

func TestUploadRetriesExhausted(t *testing.T) {
	path := writeTestArtifact(t, []byte("payload"))
	store := newFakeStorage()
	store.failPuts = 10
	u := newTestUploader(store)

	_, err := u.Upload(context.Background(), path, "android-builds/a.apk", contracts.PlatformAndroid, nil)
	if err == nil {
		t.Fatal("Upload() should fail once retries are exhausted")
	}
	if len(store.attempts) != 3 {
		t.Errorf("storage saw %d attempts, want 3", len(store.attempts))
	}
	if _, ok := store.blobs["android-builds/a.apk"]; ok {
		t.Error("no blob should exist after a failed upload")
	}
}

// TestUploadNonTransientFailureIsNotRetried verifies that only transient
// errors consume the retry budget.
func TestUploadNonTransientFailureIsNotRetried(t *testing.T) {
	path := writeTestArtifact(t, []byte("payload"))
	store := &permissionDeniedStorage{}
	u := NewUploader(store, "buildops", logger.NewSilentLogger())
	u.baseDelay = time.Millisecond

	_, err := u.Upload(context.Background(), path, "android-builds/a.apk", contracts.PlatformAndroid, nil)
	if err == nil {
		t.Fatal("Upload() should fail")
	}
	if store.writers != 1 {
		t.Errorf("storage saw %d attempts, want 1 for a fatal error", store.writers)
	}
}

func TestUploadTagFailureIsNonFatal(t *testing.T) {
	path := writeTestArtifact(t, []byte("payload"))
	store := newFakeStorage()
	store.tagErr = errors.New("tagging service unavailable")
	u := newTestUploader(store)

	url, err := u.Upload(context.Background(), path, "android-builds/a.apk", contracts.PlatformAndroid, nil)
	if err != nil {
		t.Fatalf("Upload() error = %v, tag failures must not fail the upload", err)
	}
	if url == "" {
		t.Error("Upload() should still return the blob URL")
	}
}

type permissionDeniedStorage struct {
	writers int
}

func (s *permissionDeniedStorage) NewWriter(ctx context.Context, blobName string, metadata map[string]string) (io.WriteCloser, error) {
	s.writers++
	return nil, errors.New("permission denied")
}

func (s *permissionDeniedStorage) SetTags(ctx context.Context, blobName string, tags map[string]string) error {
	return nil
}

func (s *permissionDeniedStorage) BlobExists(ctx context.Context, blobName string) (bool, error) {
	return false, nil
}

func (s *permissionDeniedStorage) BlobURL(blobName string) string { return "" }

func (s *permissionDeniedStorage) Close() error { return nil }
