// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"

	"go.uber.org/zap"

	"github.com/propnest/backend/internal/auth"
	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/media"
	"github.com/propnest/backend/internal/metrics"
	"github.com/propnest/backend/internal/quota"
	"github.com/propnest/backend/internal/storage"
	"github.com/propnest/backend/internal/storage/local"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// Server is the HTTP server.
type Server struct {
	gateway       *storage.Gateway
	auth          *auth.Auth
	rateLimiter   *quota.RateLimiter
	maxUploadSize int64

	// set when media lives on local disk and must be served by us
	local *local.LocalBackend
}

// NewServer creates a new server.
func NewServer(gateway *storage.Gateway, authHandler *auth.Auth, rateLimiter *quota.RateLimiter, maxUploadSize int64) *Server {
	s := &Server{
		gateway:       gateway,
		auth:          authHandler,
		rateLimiter:   rateLimiter,
		maxUploadSize: maxUploadSize,
	}
	if lb, ok := gateway.Backend().(*local.LocalBackend); ok {
		s.local = lb
	}
	return s
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.local != nil {
		mux.HandleFunc("GET /"+s.local.URLPrefix()+"/{key...}", s.handleServeUpload)
	}

	// Uploads: auth then rate limiter
	upload := func(h http.HandlerFunc) http.Handler {
		limited := quota.RateLimitMiddleware(s.rateLimiter, auth.UserID)(h)
		return s.auth.Middleware(limited)
	}
	// Deletes: auth only
	authed := func(h http.HandlerFunc) http.Handler {
		return s.auth.Middleware(h)
	}

	mux.Handle("POST /api/v1/me/profile-image", upload(s.handleSaveProfileImage))
	mux.Handle("DELETE /api/v1/me/profile-image", authed(s.handleDeleteProfileImage))
	mux.Handle("POST /api/v1/properties/{id}/images", upload(s.handleSavePropertyImage))
	mux.Handle("DELETE /api/v1/properties/images", authed(s.handleDeletePropertyImage))
	mux.Handle("POST /api/v1/social/{kind}/media", upload(s.handleSaveSocialMedia))
	mux.Handle("DELETE /api/v1/social/{kind}/media", authed(s.handleDeleteSocialMedia))

	// Metrics sits next to the mux so route patterns are visible to it.
	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"storage": s.gateway.Backend().Type(),
	})
}

// ─── Profile images ─────────────────────────────────────────────────────────

func (s *Server) handleSaveProfileImage(w http.ResponseWriter, r *http.Request) {
	f, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	ref, err := s.gateway.SaveProfileImage(r.Context(), auth.UserID(r.Context()), f)
	if err != nil {
		s.sendSaveError(w, r, err)
		return
	}

	// The replaced image is cleaned up best-effort; a failure never fails the upload.
	if prev := r.FormValue("previous"); prev != "" && prev != ref {
		loc := media.Location{Category: media.CategoryProfile}
		if key, owned := s.gateway.OwnedKey(prev, loc, auth.UserID(r.Context())); owned {
			s.gateway.DeleteProfileImage(r.Context(), key)
		} else {
			logging.WithContext(r.Context()).Warn("previous image not owned by caller, kept",
				zap.String("previous", prev))
		}
	}

	s.sendJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

func (s *Server) handleDeleteProfileImage(w http.ResponseWriter, r *http.Request) {
	key, ok := s.readOwnedRef(w, r, media.Location{Category: media.CategoryProfile})
	if !ok {
		return
	}
	s.sendDeleted(w, s.gateway.DeleteProfileImage(r.Context(), key))
}

// ─── Property images ────────────────────────────────────────────────────────

func (s *Server) handleSavePropertyImage(w http.ResponseWriter, r *http.Request) {
	f, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	ref, err := s.gateway.SavePropertyImage(r.Context(), r.PathValue("id"), f)
	if err != nil {
		s.sendSaveError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

func (s *Server) handleDeletePropertyImage(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.readRef(w, r)
	if !ok {
		return
	}
	s.sendDeleted(w, s.gateway.DeletePropertyImage(r.Context(), ref))
}

// ─── Social media ───────────────────────────────────────────────────────────

func (s *Server) handleSaveSocialMedia(w http.ResponseWriter, r *http.Request) {
	sub := media.SocialKind(r.PathValue("kind"))
	if !sub.Valid() {
		s.sendError(w, http.StatusNotFound, "unknown social media kind")
		return
	}

	f, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	kind, err := media.ParseKind(r.FormValue("media_kind"))
	if err != nil {
		s.sendSaveError(w, r, err)
		return
	}

	ref, err := s.gateway.SaveSocialMedia(r.Context(), sub, auth.UserID(r.Context()), kind, f)
	if err != nil {
		s.sendSaveError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

func (s *Server) handleDeleteSocialMedia(w http.ResponseWriter, r *http.Request) {
	sub := media.SocialKind(r.PathValue("kind"))
	if !sub.Valid() {
		s.sendError(w, http.StatusNotFound, "unknown social media kind")
		return
	}
	key, ok := s.readOwnedRef(w, r, media.Location{Category: media.CategorySocial, SubKind: sub})
	if !ok {
		return
	}
	s.sendDeleted(w, s.gateway.DeleteSocialMedia(r.Context(), sub, key))
}

// ─── Static uploads ─────────────────────────────────────────────────────────

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	key := path.Clean("/" + r.PathValue("key"))
	f, err := s.local.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.sendError(w, http.StatusNotFound, "not found")
			return
		}
		logging.WithContext(r.Context()).Error("open upload", zap.String("key", key), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ─── Request helpers ────────────────────────────────────────────────────────

// readUpload extracts the "file" part of a multipart request. On failure it
// has already written the response.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (media.File, bool) {
	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return media.File{}, false
		}
		s.sendError(w, http.StatusBadRequest, "expected multipart form: "+err.Error())
		return media.File{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.sendError(w, http.StatusBadRequest, media.ErrNoFileProvided.Error())
			return media.File{}, false
		}
		s.sendError(w, http.StatusBadRequest, "read file: "+err.Error())
		return media.File{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "read file: "+err.Error())
		return media.File{}, false
	}

	return media.File{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, true
}

// readRef decodes {"ref": "..."} from a delete request body.
func (s *Server) readRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	return req.Ref, true
}

// readOwnedRef reads a delete reference that must resolve to a file of the
// caller under loc, returning its canonical key. An empty reference answers
// {"deleted":false}; a foreign one answers 403.
func (s *Server) readOwnedRef(w http.ResponseWriter, r *http.Request, loc media.Location) (string, bool) {
	ref, ok := s.readRef(w, r)
	if !ok {
		return "", false
	}
	if ref == "" {
		s.sendDeleted(w, false)
		return "", false
	}
	key, owned := s.gateway.OwnedKey(ref, loc, auth.UserID(r.Context()))
	if !owned {
		logging.WithContext(r.Context()).Warn("delete of foreign reference refused",
			zap.String("ref", ref), zap.String("location", loc.String()))
		s.sendError(w, http.StatusForbidden, "reference not owned by caller")
		return "", false
	}
	return key, true
}

// ─── Response helpers ───────────────────────────────────────────────────────

func (s *Server) sendSaveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, media.ErrNoFileProvided), errors.Is(err, media.ErrInvalidAsset):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrUploadFailed):
		s.sendError(w, http.StatusBadGateway, "upload failed")
	case errors.Is(err, media.ErrWriteFailed):
		s.sendError(w, http.StatusInternalServerError, "write failed")
	default:
		logging.WithContext(r.Context()).Error("unexpected save error", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendDeleted(w http.ResponseWriter, deleted bool) {
	s.sendJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, map[string]interface{}{
		"error": message,
		"code":  code,
	})
}
