package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := schema.Bootstrap(context.Background(), db); err != nil {
		t.Fatalf("failed to bootstrap metadata tables: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("failed to close database: %v", closeErr)
		}
	})

	return db
}

func TestMetadataStoreCreateAndGet(t *testing.T) {
	db := testDB(t)
	meta := NewMetadataStore(db)
	ctx := context.Background()

	f := &FileMeta{
		CollectionName: "posts",
		RecordID:       "rec1",
		FieldName:      "cover",
		Filename:       "abc123.png",
		OriginalName:   "sunset.png",
		Size:           1024,
		MimeType:       "image/png",
		Checksum:       "deadbeef",
	}

	if err := meta.Create(ctx, nil, f); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if f.ID == "" {
		t.Error("Create did not assign an ID")
	}
	if f.CreatedAt.IsZero() {
		t.Error("Create did not set CreatedAt")
	}

	got, err := meta.Get(ctx, "posts", "rec1", "abc123.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OriginalName != "sunset.png" {
		t.Errorf("OriginalName = %q, want sunset.png", got.OriginalName)
	}
	if got.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png", got.MimeType)
	}
	if got.Size != 1024 {
		t.Errorf("Size = %d, want 1024", got.Size)
	}
}

func TestMetadataStoreGetNotFound(t *testing.T) {
	db := testDB(t)
	meta := NewMetadataStore(db)
	ctx := context.Background()

	_, err := meta.Get(ctx, "posts", "rec1", "nonexistent.png")
	if err != ErrNotFound {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestMetadataStoreListForRecord(t *testing.T) {
	db := testDB(t)
	meta := NewMetadataStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f := &FileMeta{
			CollectionName: "posts",
			RecordID:       "rec1",
			FieldName:      "gallery",
			Filename:       string(rune('a'+i)) + ".png",
			OriginalName:   "photo.png",
			Size:           100,
			MimeType:       "image/png",
		}
		if err := meta.Create(ctx, nil, f); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	// belongs to a different record, must not show up
	if err := meta.Create(ctx, nil, &FileMeta{
		CollectionName: "posts", RecordID: "rec2", FieldName: "gallery",
		Filename: "z.png", OriginalName: "other.png", Size: 10, MimeType: "image/png",
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	files, err := meta.ListForRecord(ctx, "posts", "rec1")
	if err != nil {
		t.Fatalf("ListForRecord failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("ListForRecord returned %d files, want 3", len(files))
	}
}

func TestMetadataStoreDeleteForRecord(t *testing.T) {
	db := testDB(t)
	meta := NewMetadataStore(db)
	ctx := context.Background()

	if err := meta.Create(ctx, nil, &FileMeta{
		CollectionName: "posts", RecordID: "rec1", FieldName: "cover",
		Filename: "a.png", OriginalName: "a.png", Size: 10, MimeType: "image/png",
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := meta.DeleteForRecord(ctx, nil, "posts", "rec1"); err != nil {
		t.Fatalf("DeleteForRecord failed: %v", err)
	}

	files, err := meta.ListForRecord(ctx, "posts", "rec1")
	if err != nil {
		t.Fatalf("ListForRecord failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files after delete, got %d", len(files))
	}
}

func TestMetadataStoreDeleteByFilename(t *testing.T) {
	db := testDB(t)
	meta := NewMetadataStore(db)
	ctx := context.Background()

	if err := meta.Create(ctx, nil, &FileMeta{
		CollectionName: "posts", RecordID: "rec1", FieldName: "gallery",
		Filename: "a.png", OriginalName: "a.png", Size: 10, MimeType: "image/png",
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := meta.Create(ctx, nil, &FileMeta{
		CollectionName: "posts", RecordID: "rec1", FieldName: "gallery",
		Filename: "b.png", OriginalName: "b.png", Size: 10, MimeType: "image/png",
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := meta.DeleteByFilename(ctx, nil, "posts", "rec1", "a.png"); err != nil {
		t.Fatalf("DeleteByFilename failed: %v", err)
	}

	files, err := meta.ListForRecord(ctx, "posts", "rec1")
	if err != nil {
		t.Fatalf("ListForRecord failed: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "b.png" {
		t.Errorf("expected only b.png to remain, got %+v", files)
	}
}
