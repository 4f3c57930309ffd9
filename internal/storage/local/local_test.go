package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/filedepot/filedepot/internal/cas"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	root := t.TempDir()
	b, err := New(Config{RootPath: root})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b, root
}

func TestNewRequiresRootPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty root_path")
	}
}

func TestUploadWritesShardedPath(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	content := []byte("twenty-one byte blob.")
	if len(content) != 21 {
		t.Fatalf("fixture should be 21 bytes, got %d", len(content))
	}

	if !b.Upload(ctx, content, "txt") {
		t.Fatal("upload should succeed on empty root")
	}

	id := cas.ComputeID(content)
	want := filepath.Join(root, id[:3], id[3:6], id+".txt")
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("expected file at %s: %v", want, err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	content := []byte("round trip content")
	id := cas.ComputeID(content)
	if !b.UploadWithID(ctx, id, content, "bin") {
		t.Fatal("upload failed")
	}
	if !b.Exists(ctx, cas.StoragePath(id, "bin")) {
		t.Fatal("uploaded file should exist")
	}
}

func TestUploadRefusesOverwrite(t *testing.T) {
	b, root := newTestBackend(t)
	ctx := context.Background()

	content := []byte("original content")
	id := cas.ComputeID(content)
	if !b.UploadWithID(ctx, id, content, "txt") {
		t.Fatal("first upload failed")
	}
	if b.UploadWithID(ctx, id, []byte("replacement"), "txt") {
		t.Fatal("second upload at same path should be refused")
	}

	// Existing content untouched.
	full := filepath.Join(root, filepath.FromSlash(cas.StoragePath(id, "txt")))
	got, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("existing content was modified: %q", got)
	}
}

func TestUploadCannotEscapeRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "files")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir root: %v", err)
	}
	b, err := New(Config{RootPath: root})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	ctx := context.Background()
	content := []byte("attacker controlled")
	id := cas.ComputeID(content)
	b.UploadWithID(ctx, id, content, "txt/../../../../escaped.txt")

	if _, err := os.Stat(filepath.Join(parent, "escaped.txt")); !os.IsNotExist(err) {
		t.Fatal("write escaped the backend root")
	}
	// The unsafe extension is dropped; content lands at the bare id path.
	if !b.Exists(ctx, cas.StoragePath(id, "")) {
		t.Fatal("content should be stored under the sharded id path")
	}
}

func TestExistsOnUnwrittenPath(t *testing.T) {
	b, root := newTestBackend(t)
	if b.Exists(context.Background(), "abc/def/abcdef000000.txt") {
		t.Fatal("exists should be false for a path never written")
	}
	// No side effect: root stays empty.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("exists check created entries: %v", entries)
	}
}

func TestGetURL(t *testing.T) {
	b, root := newTestBackend(t)
	url := b.GetURL("abc/def/abcdef.txt")
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("expected file:// URL, got %s", url)
	}
	if !strings.Contains(url, filepath.ToSlash(root)) {
		t.Fatalf("URL should contain root path: %s", url)
	}
	if !strings.HasSuffix(url, "abc/def/abcdef.txt") {
		t.Fatalf("URL should end with storage path: %s", url)
	}
}
