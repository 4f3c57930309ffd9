// Package storage defines the Backend capability set for file storage
// backends and constructs configured variants.
//
// All variants share the same contract: URLs are pure string formatting,
// uploads are content-addressed and never overwrite existing paths, and
// every write resolves to a boolean so callers get one uniform failure
// channel regardless of the backend.
package storage

import "context"

// Backend is the capability set implemented by every storage variant
// (local filesystem, S3-compatible object storage, GCS, SFTP).
type Backend interface {
	// Type returns the backend discriminator ("local", "s3", "gcs", "sftp").
	Type() string

	// GetURL formats a backend-specific URI for a storage path. It never
	// fails and performs no I/O.
	GetURL(storagePath string) string

	// UploadWithID writes data at the path derived from fileID. A
	// pre-existing file at the target path is refused, logged and reported
	// as false; so is any I/O failure during the write. Remote variants
	// lazily establish their connection first, with retry.
	UploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool

	// Upload computes the content ID for data and delegates to UploadWithID.
	Upload(ctx context.Context, data []byte, extension string) bool

	// Exists reports whether a file is present at the given storage path.
	// An absent path is a normal negative result, never an error.
	Exists(ctx context.Context, storagePath string) bool

	// Close releases connection state. Called at process shutdown.
	Close() error
}
