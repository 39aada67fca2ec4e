package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"buildops/src/contracts"
	"buildops/src/logger"
	"buildops/src/registry"
)

func newTestWorker(t *testing.T, store *fakeStorage) (*Worker, *registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewSilentLogger()
	reg := registry.New()
	w := NewWorker(reg, NewDownloader(dir, log), newTestUploader(store), log)
	return w, reg, dir
}

// TestWorkerFullCycle walks one android build through the complete pipeline:
// available -> downloading -> downloaded -> uploading -> uploaded.
func TestWorkerFullCycle(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	store := newFakeStorage()
	w, reg, _ := newTestWorker(t, store)

	meta := contracts.BuildMetadata{
		ID:                "b1",
		Platform:          contracts.PlatformAndroid,
		Profile:           "development",
		AppVersion:        "1.2.3",
		BuildNumber:       "42",
		CommitFingerprint: "abcdef1234",
		SourceBuildURL:    server.URL,
	}
	if err := reg.Register(meta); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	path, err := w.Download(context.Background(), contracts.PlatformAndroid, "b1", nil)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if filepath.Base(path) != "android-dev-v1.2.3-42-abcdef1.apk" {
		t.Errorf("downloaded name = %q", filepath.Base(path))
	}

	b, _ := reg.Get(contracts.PlatformAndroid, "b1")
	if b.Status != registry.StatusDownloaded || b.LocalPath != path {
		t.Fatalf("after download: status=%q localPath=%q", b.Status, b.LocalPath)
	}

	url, err := w.Upload(context.Background(), contracts.PlatformAndroid, "b1", path, nil)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, ok := store.blobs["android-builds/android-dev-v1.2.3-42-abcdef1.apk"]; !ok {
		t.Errorf("blob not stored under platform container, have %v", blobNames(store))
	}

	b, _ = reg.Get(contracts.PlatformAndroid, "b1")
	if b.Status != registry.StatusUploaded {
		t.Errorf("final status = %q, want uploaded", b.Status)
	}
	if b.RemoteURL != url || url == "" {
		t.Errorf("RemoteURL = %q, want %q", b.RemoteURL, url)
	}

	builds := reg.Builds(contracts.PlatformAndroid)
	if len(builds) != 1 || builds[0].RemoteURL == "" {
		t.Errorf("Builds() = %+v, want one entry with RemoteURL set", builds)
	}
}

// TestWorkerMissingBuildNumber: the naming contract is checked before any
// transition, so the build stays available and no temp file appears.
func TestWorkerMissingBuildNumber(t *testing.T) {
	store := newFakeStorage()
	w, reg, dir := newTestWorker(t, store)

	meta := contracts.BuildMetadata{
		ID:                "b1",
		Platform:          contracts.PlatformAndroid,
		Profile:           "development",
		AppVersion:        "1.2.3",
		CommitFingerprint: "abcdef1234",
		SourceBuildURL:    "http://unused.invalid",
	}
	if err := reg.Register(meta); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := w.Download(context.Background(), contracts.PlatformAndroid, "b1", nil)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("Download() error = %v, want ErrMissingField", err)
	}

	b, _ := reg.Get(contracts.PlatformAndroid, "b1")
	if b.Status != registry.StatusAvailable {
		t.Errorf("status = %q, want available", b.Status)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("found %d files in download dir, want none", len(entries))
	}
}

func TestWorkerDownloadFailureSetsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer server.Close()

	store := newFakeStorage()
	w, reg, _ := newTestWorker(t, store)

	meta := contracts.BuildMetadata{
		ID:                "b1",
		Platform:          contracts.PlatformAndroid,
		Profile:           "development",
		AppVersion:        "1.2.3",
		BuildNumber:       "42",
		CommitFingerprint: "abcdef1234",
		SourceBuildURL:    server.URL,
	}
	if err := reg.Register(meta); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := w.Download(context.Background(), contracts.PlatformAndroid, "b1", nil); err == nil {
		t.Fatal("Download() should fail")
	}

	b, _ := reg.Get(contracts.PlatformAndroid, "b1")
	if b.Status != registry.StatusError {
		t.Errorf("status = %q, want error", b.Status)
	}
	if b.LastError == "" {
		t.Error("LastError should carry the failure text")
	}

	// A build whose download failed was never downloaded; it cannot jump
	// straight into uploading.
	if _, err := w.Upload(context.Background(), contracts.PlatformAndroid, "b1", "/tmp/a.apk", nil); !errors.Is(err, registry.ErrInvalidTransition) {
		t.Errorf("Upload() after download failure = %v, want ErrInvalidTransition", err)
	}

	// Manual retry is allowed from the error status.
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("apk-bytes"))
	}))
	defer ok.Close()
	retryMeta := meta
	retryMeta.SourceBuildURL = ok.URL
	if err := reg.Register(retryMeta); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := w.Download(context.Background(), contracts.PlatformAndroid, "b1", nil); err != nil {
		t.Fatalf("retry Download() error = %v", err)
	}
	b, _ = reg.Get(contracts.PlatformAndroid, "b1")
	if b.Status != registry.StatusDownloaded {
		t.Errorf("status after retry = %q, want downloaded", b.Status)
	}
}

func TestWorkerUploadRequiresDownload(t *testing.T) {
	store := newFakeStorage()
	w, reg, _ := newTestWorker(t, store)

	meta := contracts.BuildMetadata{
		ID:                "b1",
		Platform:          contracts.PlatformAndroid,
		Profile:           "development",
		AppVersion:        "1.2.3",
		BuildNumber:       "42",
		CommitFingerprint: "abcdef1234",
	}
	if err := reg.Register(meta); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := w.Upload(context.Background(), contracts.PlatformAndroid, "b1", "/tmp/a.apk", nil)
	if !errors.Is(err, registry.ErrInvalidTransition) {
		t.Errorf("Upload() on an undownloaded build = %v, want ErrInvalidTransition", err)
	}
}

func blobNames(s *fakeStorage) []string {
	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	return names
}
