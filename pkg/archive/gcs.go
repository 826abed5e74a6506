//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// GCSBackend stores objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBackend connects with application default credentials.
func NewGCSBackend(ctx context.Context, bucket, prefix string) (*GCSBackend, error) {
	if bucket == "" {
		return nil, kerr.ErrValidation.With("archive.gcs", "bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSBackend) Name() string { return "gcs" }

func (g *GCSBackend) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + key)
}

func (g *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := g.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	w.ContentEncoding = "br"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (g *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	// ReadCompressed keeps GCS from transcoding the brotli body.
	r, err := g.object(key).ReadCompressed(true).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, kerr.ErrNotFound.With("archive.gcs", "no object %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (g *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

// Close closes the GCS client.
func (g *GCSBackend) Close() error {
	return g.client.Close()
}

func newGCS(ctx context.Context, cfg Config) (Backend, error) {
	return NewGCSBackend(ctx, cfg.Bucket, cfg.Prefix)
}
