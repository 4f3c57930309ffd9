package s3

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/filedepot/filedepot/internal/cas"
)

const testBucket = "filedepot-test"

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	mem := s3mem.New()
	if err := mem.CreateBucket(testBucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	ts := httptest.NewServer(gofakes3.New(mem).Server())
	t.Cleanup(ts.Close)

	b, err := New(Config{
		Bucket:    testBucket,
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Endpoint:  ts.URL,
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewRequiresCredentials(t *testing.T) {
	cases := []Config{
		{AccessKey: "a", SecretKey: "s", Endpoint: "e"},
		{Bucket: "b", SecretKey: "s", Endpoint: "e"},
		{Bucket: "b", AccessKey: "a", Endpoint: "e"},
		{Bucket: "b", AccessKey: "a", SecretKey: "s"},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("expected config error for %+v", cfg)
		}
	}
}

func TestUploadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := []byte("s3 object content")
	id := cas.ComputeID(content)

	if !b.UploadWithID(ctx, id, content, "txt") {
		t.Fatal("upload should succeed")
	}
	if !b.Exists(ctx, cas.StoragePath(id, "txt")) {
		t.Fatal("uploaded object should exist")
	}
}

func TestUploadRefusesOverwrite(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := []byte("first write wins")
	id := cas.ComputeID(content)

	if !b.UploadWithID(ctx, id, content, "txt") {
		t.Fatal("first upload failed")
	}
	if b.UploadWithID(ctx, id, []byte("second write"), "txt") {
		t.Fatal("second upload at same key should be refused")
	}
}

func TestExistsOnUnwrittenKey(t *testing.T) {
	b := newTestBackend(t)
	if b.Exists(context.Background(), "abc/def/abcdef000000.txt") {
		t.Fatal("exists should be false for a key never written")
	}
}

func TestExistsRequiresExactKey(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	content := []byte("prefix collision content")
	id := cas.ComputeID(content)
	if !b.UploadWithID(ctx, id, content, "txt") {
		t.Fatal("upload failed")
	}

	// A shorter path that is a prefix of the stored key must not match.
	if b.Exists(ctx, cas.StoragePath(id, "")) {
		t.Fatal("prefix of a stored key should not report existence")
	}
}

func TestUploadWithRootPathPrefix(t *testing.T) {
	mem := s3mem.New()
	if err := mem.CreateBucket(testBucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	ts := httptest.NewServer(gofakes3.New(mem).Server())
	defer ts.Close()

	b, err := New(Config{
		Bucket:    testBucket,
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Endpoint:  ts.URL,
		RootPath:  "tenant-a",
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	ctx := context.Background()
	content := []byte("prefixed object")
	id := cas.ComputeID(content)
	if !b.UploadWithID(ctx, id, content, "bin") {
		t.Fatal("upload failed")
	}
	if !b.Exists(ctx, cas.StoragePath(id, "bin")) {
		t.Fatal("object should exist under the configured prefix")
	}
	url := b.GetURL(cas.StoragePath(id, "bin"))
	if !strings.Contains(url, "/tenant-a/") {
		t.Fatalf("URL should include the key prefix: %s", url)
	}
}

func TestGetURLFormat(t *testing.T) {
	b, err := New(Config{
		Bucket:    "bucket",
		AccessKey: "a",
		SecretKey: "s",
		Endpoint:  "https://s3.example.com/",
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	got := b.GetURL("abc/def/abcdef.txt")
	want := "https://s3.example.com/bucket/abc/def/abcdef.txt"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
