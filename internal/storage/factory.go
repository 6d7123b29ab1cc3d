package storage

import (
	"context"
	"fmt"

	"github.com/propnest/backend/internal/config"
	"github.com/propnest/backend/internal/storage/local"
	s3backend "github.com/propnest/backend/internal/storage/s3"
)

// NewBackend picks the backend for the deployment: the blob store for managed
// hosting, the local filesystem otherwise. The choice is made once at startup.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	if cfg.Managed() {
		b, err := s3backend.New(ctx, s3backend.Config{
			Endpoint:      cfg.S3Endpoint,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		return b, nil
	}

	b, err := local.New(local.Config{
		RootDir:   cfg.LocalUploadDir,
		URLPrefix: cfg.LocalUploadURLPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	return b, nil
}
