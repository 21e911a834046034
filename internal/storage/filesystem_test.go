package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndOpen(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	key, err := store.Write(ctx, "job-1/output.mp4", []byte("data"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if key != "job-1/output.mp4" {
		t.Fatalf("key = %q", key)
	}

	f, err := store.Open(key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() != 4 {
		t.Fatalf("stat = (%v, %v)", info, err)
	}
}

func TestPublishMovesFile(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	src := filepath.Join(t.TempDir(), "scratch-output.mp4")
	if err := os.WriteFile(src, []byte("rendered"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	key, size, err := store.Publish(context.Background(), "job-2/output.mp4", src)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if key != "job-2/output.mp4" || size != int64(len("rendered")) {
		t.Fatalf("publish = (%q, %d)", key, size)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source survived publish: %v", err)
	}
	if _, err := store.Open(key); err != nil {
		t.Fatalf("published file missing: %v", err)
	}
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "  ", "..", "../outside", "a/../../outside"} {
		if _, err := store.Write(ctx, key, []byte("x")); err == nil {
			t.Errorf("Write(%q) accepted a traversal key", key)
		}
		if _, err := store.Path(key); err == nil {
			t.Errorf("Path(%q) accepted a traversal key", key)
		}
	}

	// leading slash and backslash forms are normalized, not rejected
	key, err := store.Write(ctx, `/job-3\artifact.bin`, []byte("x"))
	if err != nil {
		t.Fatalf("write normalized key: %v", err)
	}
	if key != "job-3/artifact.bin" {
		t.Fatalf("normalized key = %q", key)
	}
}

func TestRemovePrefix(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Write(ctx, "job-4/a.bin", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Write(ctx, "job-5/b.bin", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.RemovePrefix("job-4"); err != nil {
		t.Fatalf("remove prefix: %v", err)
	}
	if _, err := store.Open("job-4/a.bin"); err == nil {
		t.Fatal("removed artifact still opens")
	}
	if _, err := store.Open("job-5/b.bin"); err != nil {
		t.Fatalf("unrelated artifact removed: %v", err)
	}
}
