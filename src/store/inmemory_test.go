package store

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreSaveAndList(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*TransferRecord{
		{ID: "t1", Platform: "android", BuildID: "b1", FileName: "android-dev-v1.0.0-1-abcdef1.apk", RemoteURL: "https://storage.googleapis.com/bucket/android-builds/a.apk", UploadedBy: "ops", CompletedAt: base},
		{ID: "t2", Platform: "ios", BuildID: "b2", FileName: "ios-prod-v1.0.0-2-abcdef2.ipa", RemoteURL: "https://storage.googleapis.com/bucket/ios-builds/b.ipa", UploadedBy: "ops", CompletedAt: base.Add(time.Hour)},
		{ID: "t3", Platform: "android", BuildID: "b3", FileName: "android-prod-v1.1.0-3-abcdef3.apk", RemoteURL: "https://storage.googleapis.com/bucket/android-builds/c.apk", UploadedBy: "ops", CompletedAt: base.Add(2 * time.Hour)},
	}
	for _, rec := range records {
		if err := s.SaveTransfer(ctx, rec); err != nil {
			t.Fatalf("SaveTransfer(%s) error: %v", rec.ID, err)
		}
	}

	all, err := s.ListTransfers(ctx, "")
	if err != nil {
		t.Fatalf("ListTransfers error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != "t3" || all[1].ID != "t2" || all[2].ID != "t1" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestInMemoryStorePlatformFilter(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	ctx := context.Background()
	now := time.Now()

	s.SaveTransfer(ctx, &TransferRecord{ID: "t1", Platform: "android", CompletedAt: now})
	s.SaveTransfer(ctx, &TransferRecord{ID: "t2", Platform: "ios", CompletedAt: now.Add(time.Minute)})
	s.SaveTransfer(ctx, &TransferRecord{ID: "t3", Platform: "android", CompletedAt: now.Add(2 * time.Minute)})

	android, err := s.ListTransfers(ctx, "android")
	if err != nil {
		t.Fatalf("ListTransfers error: %v", err)
	}
	if len(android) != 2 {
		t.Fatalf("expected 2 android records, got %d", len(android))
	}
	for _, rec := range android {
		if rec.Platform != "android" {
			t.Errorf("unexpected platform %q in filtered results", rec.Platform)
		}
	}

	none, err := s.ListTransfers(ctx, "windows")
	if err != nil {
		t.Fatalf("ListTransfers error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records for unknown platform, got %d", len(none))
	}
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	ctx := context.Background()
	s.SaveTransfer(ctx, &TransferRecord{ID: "t1", Platform: "android", CompletedAt: time.Now()})

	first, _ := s.ListTransfers(ctx, "")
	first[0].Platform = "mutated"

	second, _ := s.ListTransfers(ctx, "")
	if second[0].Platform != "android" {
		t.Errorf("list results should be independent copies, got platform %q", second[0].Platform)
	}
}
