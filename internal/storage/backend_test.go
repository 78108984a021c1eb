package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

// mockBackend implements Backend interface for testing
type mockBackend struct {
	files map[string][]byte // bucket:key -> data
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		files: make(map[string][]byte),
	}
}

func (m *mockBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.files[bucket+":"+key] = data
	return nil
}

func (m *mockBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := m.files[bucket+":"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockBackend) Delete(ctx context.Context, bucket, key string) error {
	delete(m.files, bucket+":"+key)
	return nil
}

func (m *mockBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, ok := m.files[bucket+":"+key]
	return ok, nil
}

func (m *mockBackend) DeleteDir(ctx context.Context, bucket, key string) error {
	prefix := bucket + ":" + key
	for k := range m.files {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(m.files, k)
		}
	}
	return nil
}

func TestBackendInterface(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	data := []byte("test data")
	err := backend.Put(ctx, "test-bucket", "test-key", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := backend.Exists(ctx, "test-bucket", "test-key")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Fatal("Expected file to exist")
	}

	rc, err := backend.Get(ctx, "test-bucket", "test-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	retrieved, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(retrieved, data) {
		t.Fatalf("Expected %q, got %q", data, retrieved)
	}

	err = backend.Delete(ctx, "test-bucket", "test-key")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = backend.Exists(ctx, "test-bucket", "test-key")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Fatal("Expected file to not exist after delete")
	}
}

func TestBackendDeleteDir(t *testing.T) {
	ctx := context.Background()
	backend := newMockBackend()

	data := []byte("x")
	if err := backend.Put(ctx, "posts", "rec1/a.png", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := backend.Put(ctx, "posts", "rec1/b.png", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := backend.Put(ctx, "posts", "rec2/c.png", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := backend.DeleteDir(ctx, "posts", "rec1"); err != nil {
		t.Fatalf("DeleteDir failed: %v", err)
	}

	if exists, _ := backend.Exists(ctx, "posts", "rec1/a.png"); exists {
		t.Fatal("expected rec1/a.png to be gone")
	}
	if exists, _ := backend.Exists(ctx, "posts", "rec1/b.png"); exists {
		t.Fatal("expected rec1/b.png to be gone")
	}
	if exists, _ := backend.Exists(ctx, "posts", "rec2/c.png"); !exists {
		t.Fatal("expected rec2/c.png to survive")
	}
}

func TestBackendContextCancellation(t *testing.T) {
	backend := newMockBackend()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := []byte("test data")
	err := backend.Put(ctx, "test-bucket", "test-key", bytes.NewReader(data), int64(len(data)))
	if err != nil && err != context.Canceled {
		t.Logf("Put with cancelled context: %v", err)
	}
}
