// Package storage defines the media Backend interface and the Gateway that
// every upload and delete in the application goes through.
package storage

import (
	"context"

	"github.com/propnest/backend/internal/media"
)

// Backend is the interface for media storage backends.
// Implementations handle raw blob I/O (local filesystem, S3).
type Backend interface {
	// Put stores data under key and returns the reference callers persist.
	// Local backends return the key; remote backends return a public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Delete removes the blob behind ref. It returns false, nil when nothing
	// matched. loc is the location the caller expects ref to live in.
	Delete(ctx context.Context, ref string, loc media.Location) (bool, error)

	// Key maps ref to the storage key Delete would try first, e.g.
	// "profile-images/u1/x.jpg". It returns "" when ref names no object.
	Key(ref string, loc media.Location) string

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
