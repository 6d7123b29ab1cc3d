// Package local provides a local filesystem storage backend.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/media"
	"github.com/propnest/backend/internal/metrics"
)

// Config holds local filesystem backend settings.
type Config struct {
	// RootDir is the directory on disk holding every category directory.
	RootDir string
	// URLPrefix is the logical root carried by rooted references and public
	// URLs, e.g. "uploads" in "/uploads/profile-images/u1/x.jpg".
	URLPrefix string
}

// LocalBackend stores media under RootDir.
type LocalBackend struct {
	rootDir string
	prefix  string
}

// New creates the root and every category directory, then returns the backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("root dir is required")
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root dir %s: %w", cfg.RootDir, err)
	}

	prefix := strings.Trim(cfg.URLPrefix, "/")
	if prefix == "" {
		prefix = filepath.Base(root)
	}

	for _, dir := range media.AllDirs() {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return &LocalBackend{rootDir: root, prefix: prefix}, nil
}

// RootDir returns the absolute storage root.
func (b *LocalBackend) RootDir() string { return b.rootDir }

// URLPrefix returns the logical root prefix without slashes.
func (b *LocalBackend) URLPrefix() string { return b.prefix }

// Put writes data to key via a temp file and rename, returning the key itself.
func (b *LocalBackend) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	start := time.Now()
	err := b.write(key, data)
	metrics.RecordStorageOperation("local", "put", time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", media.ErrWriteFailed, err)
	}
	logging.Debug("local put", zap.String("key", key), zap.Int("size", len(data)))
	return key, nil
}

func (b *LocalBackend) write(key string, data []byte) error {
	dest, ok := b.within(filepath.Join(b.rootDir, filepath.FromSlash(key)))
	if !ok {
		return fmt.Errorf("key %s escapes storage root", key)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".propnest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// deleteRequest carries one delete call through the candidate generators.
type deleteRequest struct {
	original   string
	normalized string
	loc        media.Location
}

// candidate yields a path to try, or false when it has nothing to offer.
type candidate func(b *LocalBackend, req deleteRequest) (string, bool)

// deleteCandidates is tried in order; the first existing file wins.
// References minted by older layouts are reached by the later entries.
var deleteCandidates = []candidate{
	// normalized reference, e.g. uploads/profile-images/u1/x.jpg
	func(b *LocalBackend, req deleteRequest) (string, bool) {
		rel, ok := strings.CutPrefix(req.normalized, b.prefix+"/")
		if !ok {
			return "", false
		}
		return filepath.Join(b.rootDir, filepath.FromSlash(rel)), true
	},
	// root-qualified original input
	func(b *LocalBackend, req deleteRequest) (string, bool) {
		return filepath.Join(b.rootDir, filepath.FromSlash(strings.TrimPrefix(req.original, "/"))), true
	},
	// literal original input
	func(b *LocalBackend, req deleteRequest) (string, bool) {
		return filepath.FromSlash(req.original), true
	},
	// flat layout: root + category + basename
	func(b *LocalBackend, req deleteRequest) (string, bool) {
		base := path.Base(req.normalized)
		if base == "." || base == "/" || base == b.prefix {
			return "", false
		}
		return filepath.Join(b.rootDir, filepath.FromSlash(req.loc.Dir()), base), true
	},
}

// Delete removes the file behind ref. It returns false, nil when no candidate
// path exists.
func (b *LocalBackend) Delete(_ context.Context, ref string, loc media.Location) (bool, error) {
	start := time.Now()
	req := deleteRequest{original: ref, normalized: b.normalize(ref, loc), loc: loc}

	tried := make(map[string]bool, len(deleteCandidates))
	var errs []error
	for _, gen := range deleteCandidates {
		p, ok := gen(b, req)
		if !ok {
			continue
		}
		abs, ok := b.within(p)
		if !ok || tried[abs] {
			continue
		}
		tried[abs] = true

		removed, err := removeFile(abs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			metrics.RecordStorageOperation("local", "delete", time.Since(start), true)
			logging.Debug("local delete", zap.String("ref", ref), zap.String("path", abs))
			return true, nil
		}
	}

	err := errors.Join(errs...)
	metrics.RecordStorageOperation("local", "delete", time.Since(start), err == nil)
	return false, err
}

// normalize maps any accepted reference shape to "{prefix}/{dir}/...".
func (b *LocalBackend) normalize(ref string, loc media.Location) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")

	if p == b.prefix || strings.HasPrefix(p, b.prefix+"/") {
		return p
	}
	first, _, _ := strings.Cut(p, "/")
	if media.KnownDir(first) {
		return b.prefix + "/" + p
	}
	return b.prefix + "/" + loc.Dir() + "/" + p
}

// Key returns the root-relative key ref normalizes to.
func (b *LocalBackend) Key(ref string, loc media.Location) string {
	key, _ := strings.CutPrefix(b.normalize(ref, loc), b.prefix+"/")
	if key == b.prefix {
		return ""
	}
	return key
}

// within resolves p and reports whether it lies strictly inside the root.
func (b *LocalBackend) within(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(abs, b.rootDir+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// removeFile deletes a regular file. Missing files and directories are
// reported as not removed.
func removeFile(p string) (bool, error) {
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", p, err)
	}
	return true, nil
}

// Open returns the file behind a category-relative key for serving.
func (b *LocalBackend) Open(key string) (*os.File, error) {
	p, ok := b.within(filepath.Join(b.rootDir, filepath.FromSlash(strings.TrimPrefix(key, "/"))))
	if !ok {
		return nil, fs.ErrNotExist
	}
	return os.Open(p)
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }
