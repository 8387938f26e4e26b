// Package gcs implements artifact storage on Google Cloud Storage.
// Uploads are upserts keyed by deterministic object names, so retried
// stage handlers overwrite rather than duplicate.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Store implements domain.BlobStore on a single GCS bucket.
type Store struct {
	client    *storage.Client
	bucket    string
	publicURL string
}

// New opens a GCS client using ambient credentials.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=gcs.New: %w", err)
	}
	return &Store{
		client:    client,
		bucket:    cfg.StorageBucket,
		publicURL: strings.TrimRight(cfg.StoragePublicURL, "/"),
	}, nil
}

// Put writes the object and returns its public URL. An empty contentType
// is sniffed from the payload.
func (s *Store) Put(ctx domain.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty storage key", domain.ErrInvalidArgument)
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: gcs write %s: %v", domain.ErrTransient, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: gcs close %s: %v", domain.ErrTransient, key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
}

// Delete removes the object; a missing object is not an error so cleanup
// passes stay idempotent.
func (s *Store) Delete(ctx domain.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: gcs delete %s: %v", domain.ErrTransient, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }
