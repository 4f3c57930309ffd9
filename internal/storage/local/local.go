// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/cas"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string
}

// Backend implements the storage capability set on the local filesystem.
type Backend struct {
	rootPath string
}

// New creates a local filesystem backend rooted at cfg.RootPath.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("local backend requires root_path")
	}
	return &Backend{rootPath: cfg.RootPath}, nil
}

func (b *Backend) fullPath(storagePath string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(storagePath))
}

// GetURL returns a file:// URL for the given storage path.
func (b *Backend) GetURL(storagePath string) string {
	full := b.fullPath(storagePath)
	if abs, err := filepath.Abs(full); err == nil {
		full = abs
	}
	return "file://" + filepath.ToSlash(full)
}

// UploadWithID writes data at the path derived from fileID, creating parent
// directories as needed. The create is exclusive: a pre-existing file is
// never overwritten.
func (b *Backend) UploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool {
	start := time.Now()
	ok := b.uploadWithID(ctx, fileID, data, extension)
	metrics.RecordStorageOperation(b.Type(), "upload", time.Since(start), ok)
	return ok
}

func (b *Backend) uploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool {
	localPath := b.fullPath(cas.StoragePath(fileID, extension))
	logger := logging.WithContext(ctx)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		logger.Error("error creating directories", zap.String("local_path", localPath), zap.Error(err))
		return false
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			logger.Error("file already exists", zap.String("local_path", localPath))
		} else {
			logger.Error("error saving file", zap.String("local_path", localPath), zap.Error(err))
		}
		return false
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(localPath)
		logger.Error("error saving file", zap.String("local_path", localPath), zap.Error(err))
		return false
	}
	if err := f.Close(); err != nil {
		os.Remove(localPath)
		logger.Error("error saving file", zap.String("local_path", localPath), zap.Error(err))
		return false
	}

	logger.Debug("wrote local file", zap.String("local_path", localPath))
	return true
}

// Upload computes the content ID for data and delegates to UploadWithID.
func (b *Backend) Upload(ctx context.Context, data []byte, extension string) bool {
	return b.UploadWithID(ctx, cas.ComputeID(data), data, extension)
}

// Exists reports whether a file is present at the given storage path.
func (b *Backend) Exists(_ context.Context, storagePath string) bool {
	_, err := os.Stat(b.fullPath(storagePath))
	return err == nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
