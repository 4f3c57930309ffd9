package cas

import (
	"strings"
	"testing"
)

func TestComputeIDDeterministic(t *testing.T) {
	data := []byte("hello content addressing")
	first := ComputeID(data)
	second := ComputeID(data)
	if first != second {
		t.Fatalf("same bytes produced different IDs: %s vs %s", first, second)
	}
	if len(first) != 32 {
		t.Fatalf("expected 32 hex chars, got %d (%s)", len(first), first)
	}
	if first != strings.ToLower(first) {
		t.Fatalf("expected lowercase hex, got %s", first)
	}
}

func TestComputeIDDistinctContent(t *testing.T) {
	a := ComputeID([]byte("one"))
	b := ComputeID([]byte("two"))
	if a == b {
		t.Fatalf("distinct bytes produced the same ID: %s", a)
	}
}

func TestComputeIDKnownVector(t *testing.T) {
	// md5("hello") is a fixed reference value.
	if got := ComputeID([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Fatalf("unexpected digest: %s", got)
	}
}

func TestStoragePathShape(t *testing.T) {
	id := "abcdef1234567890abcdef1234567890"

	got := StoragePath(id, "txt")
	want := "abc/def/" + id + ".txt"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// Stable across calls.
	if again := StoragePath(id, "txt"); again != got {
		t.Fatalf("path not stable: %s vs %s", got, again)
	}
}

func TestStoragePathNoExtension(t *testing.T) {
	id := "abcdef1234567890abcdef1234567890"
	got := StoragePath(id, "")
	if got != "abc/def/"+id {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestStoragePathStripsLeadingDots(t *testing.T) {
	id := "abcdef1234567890abcdef1234567890"
	if StoragePath(id, ".png") != StoragePath(id, "png") {
		t.Fatal("leading dot should be normalized away")
	}
}

func TestStoragePathExtensionChangesSuffixOnly(t *testing.T) {
	id := ComputeID([]byte("suffix test"))
	a := StoragePath(id, "jpg")
	b := StoragePath(id, "png")
	if a[:len(a)-3] != b[:len(b)-3] {
		t.Fatalf("extension changed more than the suffix: %s vs %s", a, b)
	}
}

func TestStoragePathIgnoresUnsafeExtension(t *testing.T) {
	id := ComputeID([]byte("traversal test"))
	unsafe := []string{
		"txt/../../../../escaped.txt",
		"../secret",
		"a/b",
		`a\b`,
		"..",
	}
	want := StoragePath(id, "")
	for _, ext := range unsafe {
		got := StoragePath(id, ext)
		if got != want {
			t.Fatalf("extension %q altered the path: %s", ext, got)
		}
		if strings.Contains(got, "..") {
			t.Fatalf("path contains parent reference: %s", got)
		}
		if !strings.HasPrefix(got, id[:3]+"/"+id[3:6]+"/") {
			t.Fatalf("path escaped the shard directories: %s", got)
		}
	}
}

func TestValidID(t *testing.T) {
	if !ValidID(ComputeID([]byte("any content"))) {
		t.Fatal("computed IDs must be valid")
	}
	invalid := []string{
		"",
		"ab",
		strings.Repeat("a", 31),
		strings.Repeat("a", 33),
		strings.Repeat("A", 32),
		"0123456789abcdef0123456789abcdeg",
		"../3456789abcdef0123456789abcdef",
	}
	for _, id := range invalid {
		if ValidID(id) {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
}

func TestValidExtension(t *testing.T) {
	valid := []string{"", "txt", ".png", "tar.gz", "..gz"}
	for _, ext := range valid {
		if !ValidExtension(ext) {
			t.Fatalf("expected %q to be valid", ext)
		}
	}
	invalid := []string{"a/b", `a\b`, "txt/../../escaped.txt", "a..b"}
	for _, ext := range invalid {
		if ValidExtension(ext) {
			t.Fatalf("expected %q to be invalid", ext)
		}
	}
}
