package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "effects/a.jpg", want: "effects/a.jpg"},
		{key: "./effects//a.jpg", want: "effects/a.jpg"},
		{key: "/effects/a.jpg", want: "effects/a.jpg"},
		{key: `effects\a.jpg`, want: "effects/a.jpg"},
		{key: "effects/../a.jpg", want: "a.jpg"},
		{key: "../secret", wantErr: true},
		{key: "..", wantErr: true},
		{key: "  ", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.key)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) = %q, want error", tc.key, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestFileStoreWriteReadRemove(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	key, err := store.Write(ctx, "effects/job.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "effects/job.jpg" {
		t.Fatalf("key = %q, want effects/job.jpg", key)
	}
	if !store.Exists(key) {
		t.Fatalf("expected %s to exist", key)
	}
	data, err := store.Read(key)
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("read = %q, %v", data, err)
	}

	if err := store.Remove(key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if store.Exists(key) {
		t.Fatalf("expected %s to be removed", key)
	}
	if err := store.Remove(key); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := store.Read(key); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("read missing = %v, want fs.ErrNotExist", err)
	}
}

func TestFileStoreCopyFile(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	src := filepath.Join(t.TempDir(), "download.mp4")
	if err := os.WriteFile(src, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	key, err := store.CopyFile(context.Background(), src, "effects/job.mp4")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	data, err := store.Read(key)
	if err != nil || string(data) != "mp4" {
		t.Fatalf("read copy = %q, %v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Join(store.BasePath(), "effects"))
	if len(entries) != 1 {
		t.Fatalf("expected only the copied file, found %d entries", len(entries))
	}
}

func TestFileStoreWriteHonorsCancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "a.jpg", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("write err = %v, want context.Canceled", err)
	}
}

func TestLockIsExclusiveUntilUnlocked(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	held, err := store.Lock("state/app.lock")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := store.Lock("state/app.lock"); !errors.Is(err, ErrLocked) {
		t.Fatalf("second lock error = %v, want ErrLocked", err)
	}
	if err := held.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := held.Unlock(); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	again, err := store.Lock("state/app.lock")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if err := again.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
