// Package gcs writes snapshots to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/hellowork-crawler/internal/snapshot"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes objects to a configured bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads obj with its content type and metadata and returns a gs:// URI.
func (s *BlobStore) Put(ctx context.Context, obj snapshot.Object) (string, error) {
	if strings.TrimSpace(obj.Key) == "" {
		return "", fmt.Errorf("key is required")
	}
	w := s.client.Bucket(s.bucket).Object(obj.Key).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.Metadata = obj.Metadata
	if _, err := w.Write(obj.Body); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", obj.Key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, obj.Key), nil
}
