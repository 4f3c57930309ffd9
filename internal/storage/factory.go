package storage

import (
	"fmt"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/storage/gcs"
	"github.com/filedepot/filedepot/internal/storage/local"
	s3backend "github.com/filedepot/filedepot/internal/storage/s3"
	sftpbackend "github.com/filedepot/filedepot/internal/storage/sftp"
)

// NewBackendFromConfig creates a Backend from a declared backend instance.
// Missing required fields for a variant are a fatal configuration error.
func NewBackendFromConfig(cfg config.BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "local":
		return local.New(local.Config{RootPath: cfg.RootPath})
	case "s3":
		return s3backend.New(s3backend.Config{
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			RootPath:  cfg.RootPath,
		})
	case "gcs":
		return gcs.New(gcs.Config{
			Bucket:    cfg.Bucket,
			ProjectID: cfg.ProjectID,
			RootPath:  cfg.RootPath,
		})
	case "sftp":
		return sftpbackend.New(sftpbackend.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			RootPath: cfg.RootPath,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
