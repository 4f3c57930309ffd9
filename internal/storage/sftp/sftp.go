// Package sftp provides an SFTP storage backend.
package sftp

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/filedepot/filedepot/internal/cas"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/retry"
)

// Config holds SFTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	RootPath string
}

// Backend implements the storage capability set over SFTP. The connection
// is established lazily on first use, with retry, and re-established when
// the transport drops.
type Backend struct {
	cfg Config

	mu        sync.Mutex
	sshClient *ssh.Client
	client    *sftp.Client
}

// New validates the configuration and returns an unconnected backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.Username == "" || cfg.Password == "" || cfg.RootPath == "" {
		return nil, fmt.Errorf("sftp backend requires host, port, username, password and root_path")
	}
	return &Backend{cfg: cfg}, nil
}

// isConnected probes the current client with a cheap operation.
func (b *Backend) isConnected() bool {
	if b.client == nil {
		return false
	}
	_, err := b.client.Getwd()
	return err == nil
}

// getClient returns a live SFTP client, dialing with retry and exponential
// backoff when no healthy connection exists.
func (b *Backend) getClient(ctx context.Context) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isConnected() {
		return b.client, nil
	}
	b.teardown()

	logger := logging.WithContext(ctx)
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)

	err := retry.Do(ctx, retry.ConnectPolicy(), func() error {
		sshClient, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
			User:            b.cfg.Username,
			Auth:            []ssh.AuthMethod{ssh.Password(b.cfg.Password)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}

		client, err := sftp.NewClient(sshClient)
		if err != nil {
			sshClient.Close()
			return fmt.Errorf("sftp subsystem on %s: %w", addr, err)
		}

		b.sshClient = sshClient
		b.client = client
		return nil
	})
	if err != nil {
		logger.Error("failed to connect to SFTP server",
			zap.String("host", b.cfg.Host), zap.Int("port", b.cfg.Port), zap.Error(err))
		return nil, err
	}

	logger.Info("connected to SFTP server",
		zap.String("host", b.cfg.Host), zap.Int("port", b.cfg.Port))
	return b.client, nil
}

func (b *Backend) teardown() {
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
	if b.sshClient != nil {
		b.sshClient.Close()
		b.sshClient = nil
	}
}

func (b *Backend) remotePath(storagePath string) string {
	return path.Join(b.cfg.RootPath, storagePath)
}

// GetURL returns an sftp:// URL for the given storage path.
func (b *Backend) GetURL(storagePath string) string {
	remote := strings.TrimPrefix(b.remotePath(storagePath), "/")
	return fmt.Sprintf("sftp://%s:%d/%s", b.cfg.Host, b.cfg.Port, remote)
}

// mkdirAll creates each missing ancestor of dir, one segment at a time.
// SFTP has no recursive mkdir primitive.
func mkdirAll(client *sftp.Client, dir string) error {
	var current string
	for _, part := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		if part == "" {
			continue
		}
		if current == "" && strings.HasPrefix(dir, "/") {
			current = "/" + part
		} else if current == "" {
			current = part
		} else {
			current = current + "/" + part
		}
		if _, err := client.Stat(current); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			if err := client.Mkdir(current); err != nil {
				return err
			}
		}
	}
	return nil
}

// UploadWithID writes data at the remote path derived from fileID. A
// pre-existing file is refused; any failure resolves to false.
func (b *Backend) UploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool {
	start := time.Now()
	ok := b.uploadWithID(ctx, fileID, data, extension)
	metrics.RecordStorageOperation(b.Type(), "upload", time.Since(start), ok)
	return ok
}

func (b *Backend) uploadWithID(ctx context.Context, fileID string, data []byte, extension string) bool {
	storagePath := cas.StoragePath(fileID, extension)
	remote := b.remotePath(storagePath)
	logger := logging.WithContext(ctx)

	client, err := b.getClient(ctx)
	if err != nil {
		logger.Error("error saving file to SFTP", zap.String("remote_path", remote), zap.Error(err))
		return false
	}

	if _, err := client.Stat(remote); err == nil {
		logger.Error("file already exists", zap.String("remote_path", remote))
		return false
	} else if !os.IsNotExist(err) {
		logger.Error("error saving file to SFTP", zap.String("remote_path", remote), zap.Error(err))
		return false
	}

	if err := mkdirAll(client, path.Dir(remote)); err != nil {
		logger.Error("error creating remote directories", zap.String("remote_path", path.Dir(remote)), zap.Error(err))
		return false
	}

	f, err := client.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		logger.Error("error saving file to SFTP", zap.String("remote_path", remote), zap.Error(err))
		return false
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		logger.Error("error saving file to SFTP", zap.String("remote_path", remote), zap.Error(err))
		return false
	}
	if err := f.Close(); err != nil {
		logger.Error("error saving file to SFTP", zap.String("remote_path", remote), zap.Error(err))
		return false
	}

	logger.Debug("wrote SFTP file", zap.String("remote_path", remote))
	return true
}

// Upload computes the content ID for data and delegates to UploadWithID.
func (b *Backend) Upload(ctx context.Context, data []byte, extension string) bool {
	return b.UploadWithID(ctx, cas.ComputeID(data), data, extension)
}

// Exists reports whether a file is present at the given storage path.
func (b *Backend) Exists(ctx context.Context, storagePath string) bool {
	remote := b.remotePath(storagePath)
	logger := logging.WithContext(ctx)

	client, err := b.getClient(ctx)
	if err != nil {
		logger.Error("failed to check SFTP file", zap.String("remote_path", remote), zap.Error(err))
		return false
	}

	if _, err := client.Stat(remote); err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to check SFTP file", zap.String("remote_path", remote), zap.Error(err))
		}
		return false
	}
	return true
}

// Type returns "sftp".
func (b *Backend) Type() string { return "sftp" }

// Close tears down the SFTP and SSH transports.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardown()
	return nil
}
