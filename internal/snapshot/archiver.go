// Package snapshot archives the local CSV tables to S3-compatible storage
// after an audited sync run. When no bucket is configured the NoopArchiver
// is used and the service stays local-only.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/leobook/leosync/internal/config"
)

// ErrNotConfigured is returned when archive storage is not configured.
var ErrNotConfigured = errors.New("archive storage not configured")

// Archiver uploads a set of table files under a run label.
type Archiver interface {
	Archive(ctx context.Context, label string, paths []string) error
}

// s3Client defines the minimal minio.Client operations used by S3Archiver.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath, contentType string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath, contentType string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// S3Archiver uploads table files to S3-compatible storage.
type S3Archiver struct {
	client s3Client
	bucket string
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// Archive uploads every existing file in paths. Objects are keyed
// {prefix}/{label}/{UTC stamp}/{file name}. Missing files are skipped and
// the first upload error aborts the run.
func (a *S3Archiver) Archive(ctx context.Context, label string, paths []string) error {
	stamp := a.now().UTC().Format("20060102T150405Z")
	uploaded := 0
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		key := objectKey(a.prefix, label, stamp, filepath.Base(p))
		if err := a.client.FPutObject(ctx, a.bucket, key, p, contentType(p)); err != nil {
			return fmt.Errorf("upload %s to S3: %w", key, err)
		}
		uploaded++
	}
	a.logger.Info("tables archived",
		"component", "snapshot",
		"action", "archive_complete",
		"label", label,
		"bucket", a.bucket,
		"files", uploaded,
	)
	return nil
}

// NoopArchiver is used when archive storage is not configured.
type NoopArchiver struct{}

// Archive is a no-op when archive storage is not configured.
func (NoopArchiver) Archive(ctx context.Context, label string, paths []string) error {
	return nil
}

// NewArchiver creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func NewArchiver(cfg config.ArchiveConfig, logger *slog.Logger) (Archiver, error) {
	if cfg.Bucket == "" {
		return NoopArchiver{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
		logger: logger,
	}, nil
}

// stripScheme removes an http:// or https:// prefix from endpoint. An
// explicit scheme overrides useSSL.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}

// objectKey returns the object key for one archived file.
func objectKey(prefix, label, stamp, name string) string {
	if label == "" {
		label = "unlabelled"
	}
	return path.Join(prefix, label, stamp, name)
}

func contentType(p string) string {
	if strings.EqualFold(filepath.Ext(p), ".csv") {
		return "text/csv"
	}
	return "application/octet-stream"
}
