package archive

import (
	"context"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Config selects and configures a backend.
type Config struct {
	Kind     string // file, s3, gcs or none
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
	Breaker  BreakerSettings
}

// Open builds the archive described by cfg. Kind "none" or "" returns nil.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "file":
		b, err = NewFileBackend(cfg.Dir)
	case "s3":
		b, err = NewS3Backend(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case "gcs":
		b, err = newGCS(ctx, cfg)
	default:
		return nil, kerr.ErrValidation.With("archive.open", "unsupported archive %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return New(b, cfg.Breaker), nil
}
