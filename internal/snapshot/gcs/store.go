// Package gcs stores page snapshots in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to reach the snapshot bucket.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

// Store uploads snapshots to a configured bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads the snapshot and returns a gs:// URI.
func (s *Store) Put(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("snapshot path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("upload snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
