// Package gcs provides a Google Cloud Storage backend.
//
// Authentication uses Application Default Credentials: `gcloud auth
// application-default login` for local development, or a service account
// via GOOGLE_APPLICATION_CREDENTIALS (or workload identity) in deployed
// environments.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/cas"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/retry"
)

// Config holds GCS connection settings.
type Config struct {
	Bucket    string
	ProjectID string
	RootPath  string // key prefix inside the bucket, optional
}

// Backend implements the storage capability set on Google Cloud Storage.
// The client and bucket handle are created lazily on first use, with retry.
type Backend struct {
	cfg Config

	mu     sync.Mutex
	client *gstorage.Client
	bucket *gstorage.BucketHandle
}

// New validates the configuration and returns an unconnected backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Bucket == "" || cfg.ProjectID == "" {
		return nil, fmt.Errorf("gcs backend requires bucket and project_id")
	}
	return &Backend{cfg: cfg}, nil
}

// getBucket returns the bucket handle, creating the client on first use
// with retry and exponential backoff.
func (b *Backend) getBucket(ctx context.Context) (*gstorage.BucketHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bucket != nil {
		return b.bucket, nil
	}

	logger := logging.WithContext(ctx)
	client, err := retry.DoWithResult(ctx, retry.ConnectPolicy(), func() (*gstorage.Client, error) {
		return gstorage.NewClient(ctx)
	})
	if err != nil {
		logger.Error("failed to connect to GCS", zap.String("bucket", b.cfg.Bucket), zap.Error(err))
		return nil, err
	}

	logger.Info("connected to GCS", zap.String("bucket", b.cfg.Bucket))
	b.client = client
	b.bucket = client.Bucket(b.cfg.Bucket)
	return b.bucket, nil
}

func (b *Backend) objectKey(storagePath string) string {
	return strings.TrimPrefix(path.Join(b.cfg.RootPath, storagePath), "/")
}

// GetURL returns a gs:// URL for the given storage path.
func (b *Backend) GetURL(storagePath string) string {
	return fmt.Sprintf("gs://%s/%s", b.cfg.Bucket, b.objectKey(storagePath))
}

// UploadWithID writes data at the key derived from fileID. A pre-existing
// object is refused; any failure resolves to false.
func (b *Backend) UploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool {
	start := time.Now()
	ok := b.uploadWithID(ctx, fileID, data, extension)
	metrics.RecordStorageOperation(b.Type(), "upload", time.Since(start), ok)
	return ok
}

func (b *Backend) uploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool {
	storagePath := cas.StoragePath(fileID, extension)
	key := b.objectKey(storagePath)
	logger := logging.WithContext(ctx)

	bucket, err := b.getBucket(ctx)
	if err != nil {
		logger.Error("error saving file to GCS", zap.String("gcs_path", key), zap.Error(err))
		return false
	}

	obj := bucket.Object(key)
	_, err = obj.Attrs(ctx)
	switch {
	case err == nil:
		logger.Error("file already exists", zap.String("gcs_path", key))
		return false
	case !errors.Is(err, gstorage.ErrObjectNotExist):
		logger.Error("error saving file to GCS", zap.String("gcs_path", key), zap.Error(err))
		return false
	}

	w := obj.NewWriter(ctx)
	w.ContentType = contentType(storagePath)
	if _, err := w.Write(data); err != nil {
		w.Close()
		logger.Error("error saving file to GCS", zap.String("gcs_path", key), zap.Error(err))
		return false
	}
	if err := w.Close(); err != nil {
		logger.Error("error saving file to GCS", zap.String("gcs_path", key), zap.Error(err))
		return false
	}

	logger.Debug("wrote GCS file", zap.String("gcs_path", key))
	return true
}

// Upload computes the content ID for data and delegates to UploadWithID.
func (b *Backend) Upload(ctx context.Context, data []byte, extension string) bool {
	return b.UploadWithID(ctx, cas.ComputeID(data), data, extension)
}

// Exists reports whether an object is present at the given storage path.
func (b *Backend) Exists(ctx context.Context, storagePath string) bool {
	key := b.objectKey(storagePath)
	logger := logging.WithContext(ctx)

	bucket, err := b.getBucket(ctx)
	if err != nil {
		logger.Error("failed to check GCS object", zap.String("bucket", b.cfg.Bucket), zap.Error(err))
		return false
	}

	_, err = bucket.Object(key).Attrs(ctx)
	if err != nil {
		if !errors.Is(err, gstorage.ErrObjectNotExist) {
			logger.Error("failed to check GCS object", zap.String("gcs_path", key), zap.Error(err))
		}
		return false
	}
	return true
}

// Type returns "gcs".
func (b *Backend) Type() string { return "gcs" }

// Close releases the client handle.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bucket = nil
	if b.client != nil {
		err := b.client.Close()
		b.client = nil
		return err
	}
	return nil
}

func contentType(storagePath string) string {
	if ct := mime.TypeByExtension(path.Ext(storagePath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
