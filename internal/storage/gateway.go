package storage

import (
	"context"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/media"
	"github.com/propnest/backend/internal/metrics"
)

// Gateway is the single entry point for persisting and removing media.
// It holds no mutable state and is safe for concurrent use.
type Gateway struct {
	backend Backend
}

// NewGateway wraps a backend chosen by NewBackend.
func NewGateway(backend Backend) *Gateway {
	return &Gateway{backend: backend}
}

// Backend returns the active backend.
func (g *Gateway) Backend() Backend { return g.backend }

// Save validates the asset, stores it under a fresh key and returns the
// reference to persist.
func (g *Gateway) Save(ctx context.Context, asset media.Asset) (string, error) {
	if err := asset.Validate(); err != nil {
		return "", err
	}

	start := time.Now()
	key := media.NewKey(asset)
	ref, err := g.backend.Put(ctx, key, asset.Data, media.ContentType(asset.File))
	elapsed := time.Since(start)
	metrics.RecordMediaSave(string(asset.Category), g.backend.Type(), len(asset.Data), elapsed, err == nil)

	log := logging.WithContext(ctx).With(
		zap.String("location", asset.Location.String()),
		zap.String("owner_id", asset.OwnerID),
		zap.String("backend", g.backend.Type()),
		zap.Duration("duration", elapsed),
	)
	if err != nil {
		log.Error("media save failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	log.Info("media saved", zap.String("ref", ref), zap.Int("size", len(asset.Data)))
	return ref, nil
}

// Delete removes the asset behind ref. It reports whether something was
// deleted; an empty reference, a missing asset and a backend failure all
// yield false. Failures are logged, never returned.
func (g *Gateway) Delete(ctx context.Context, ref string, loc media.Location) bool {
	if ref == "" {
		return false
	}

	start := time.Now()
	deleted, err := g.backend.Delete(ctx, ref, loc)
	elapsed := time.Since(start)

	result := "not_found"
	switch {
	case deleted:
		result = "deleted"
	case err != nil:
		result = "error"
	}
	metrics.RecordMediaDelete(string(loc.Category), g.backend.Type(), result, elapsed)

	log := logging.WithContext(ctx).With(
		zap.String("ref", ref),
		zap.String("location", loc.String()),
		zap.String("backend", g.backend.Type()),
		zap.Duration("duration", elapsed),
	)
	switch {
	case deleted:
		log.Info("media deleted")
	case err != nil:
		log.Warn("media delete failed", zap.Error(err))
	default:
		log.Debug("media not found for delete")
	}
	return deleted
}

// OwnedKey resolves ref the way the backend does and reports whether the
// result is a file directly under "{loc.Dir()}/{owner}/". The returned key is
// the canonical reference to delete.
func (g *Gateway) OwnedKey(ref string, loc media.Location, owner string) (string, bool) {
	if owner == "" || ref == "" {
		return "", false
	}
	key := g.backend.Key(ref, loc)
	if key == "" || path.Clean(key) != key {
		return "", false
	}
	name, ok := strings.CutPrefix(key, loc.Dir()+"/"+owner+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return key, true
}

// SaveProfileImage stores a user's profile image.
func (g *Gateway) SaveProfileImage(ctx context.Context, userID string, f media.File) (string, error) {
	return g.Save(ctx, media.Asset{
		Location: media.Location{Category: media.CategoryProfile},
		OwnerID:  userID,
		Kind:     media.KindImage,
		File:     f,
	})
}

// DeleteProfileImage removes a profile image.
func (g *Gateway) DeleteProfileImage(ctx context.Context, ref string) bool {
	return g.Delete(ctx, ref, media.Location{Category: media.CategoryProfile})
}

// SavePropertyImage stores an image of a property.
func (g *Gateway) SavePropertyImage(ctx context.Context, propertyID string, f media.File) (string, error) {
	return g.Save(ctx, media.Asset{
		Location: media.Location{Category: media.CategoryProperty},
		OwnerID:  propertyID,
		Kind:     media.KindImage,
		File:     f,
	})
}

// DeletePropertyImage removes a property image.
func (g *Gateway) DeletePropertyImage(ctx context.Context, ref string) bool {
	return g.Delete(ctx, ref, media.Location{Category: media.CategoryProperty})
}

// SaveSocialMedia stores a post, story or reel for a user.
func (g *Gateway) SaveSocialMedia(ctx context.Context, sub media.SocialKind, userID string, kind media.Kind, f media.File) (string, error) {
	return g.Save(ctx, media.Asset{
		Location: media.Location{Category: media.CategorySocial, SubKind: sub},
		OwnerID:  userID,
		Kind:     kind,
		File:     f,
	})
}

// DeleteSocialMedia removes a post, story or reel.
func (g *Gateway) DeleteSocialMedia(ctx context.Context, sub media.SocialKind, ref string) bool {
	return g.Delete(ctx, ref, media.Location{Category: media.CategorySocial, SubKind: sub})
}

// Close releases the backend.
func (g *Gateway) Close() error {
	return g.backend.Close()
}
