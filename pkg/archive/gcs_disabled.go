//go:build !gcp

package archive

import (
	"context"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

func newGCS(context.Context, Config) (Backend, error) {
	return nil, kerr.ErrValidation.With("archive.gcs", "GCS archive is not enabled in this build (use -tags gcp)")
}
