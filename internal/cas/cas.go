// Package cas computes content-addressed identifiers and storage paths.
package cas

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ComputeID returns the content identifier for data: the MD5 digest of the
// full byte content, rendered as lowercase hex. Identical bytes always map
// to the same ID. MD5 is used for speed and deduplication only; it is not a
// security boundary.
func ComputeID(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ValidID reports whether id is a well-formed content identifier: exactly
// 32 lowercase hex characters.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidExtension reports whether extension is safe to embed in a storage
// path: no path separators and no parent-directory references. Extensions
// come from untrusted input (filenames, query parameters); anything that
// could alter the directory the path resolves to is rejected.
func ValidExtension(extension string) bool {
	ext := strings.TrimLeft(extension, ".")
	return !strings.ContainsAny(ext, `/\`) && !strings.Contains(ext, "..")
}

// StoragePath derives the storage path for a content ID. The first six hex
// characters are split into two three-character directory levels to spread
// files across up to 16^6 (~16.7M) folders, keeping any single directory
// small even at hundreds of millions of objects:
//
//	abcdef123456... -> abc/def/abcdef123456...
//
// An optional extension is appended with leading dots stripped. An
// extension that fails ValidExtension is ignored, so the result always
// stays under id[:3]/id[3:6]/ regardless of input. The result always uses
// forward slashes; backends translate to their own separators.
func StoragePath(id, extension string) string {
	name := id
	if ext := strings.TrimLeft(extension, "."); ext != "" && ValidExtension(extension) {
		name = id + "." + ext
	}
	return path.Join(id[:3], id[3:6], name)
}
