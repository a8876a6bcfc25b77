// Package gcs archives finished result files to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config names the destination bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Archiver uploads result files to a configured GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
	owned  bool
}

// Open creates a storage client and wraps it in an Archiver that closes the
// client on Close.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Archiver, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a, err := New(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.owned = true
	return a, nil
}

// New wraps an existing storage client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// ObjectName returns the object key used for a run's result file:
// <prefix>/<runID>/<basename>.
func (a *Archiver) ObjectName(runID, localPath string) string {
	return path.Join(a.prefix, runID, filepath.Base(localPath))
}

// ArchiveFile uploads the file at localPath and returns its gs:// URI.
func (a *Archiver) ArchiveFile(ctx context.Context, runID, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open result file: %w", err)
	}
	defer func() { _ = f.Close() }()

	uri, err := a.PutObject(ctx, a.ObjectName(runID, localPath), contentType, f)
	if err != nil {
		return "", err
	}
	a.logger.Info("archived result file", zap.String("path", localPath), zap.String("uri", uri))
	return uri, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (a *Archiver) PutObject(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}

// Close releases the client when the Archiver created it.
func (a *Archiver) Close() error {
	if !a.owned {
		return nil
	}
	return a.client.Close()
}
