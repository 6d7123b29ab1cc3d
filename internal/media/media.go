// Package media describes the assets handled by the storage gateway and how
// their storage keys are built.
package media

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	// ErrNoFileProvided is returned when a save is attempted with no bytes.
	ErrNoFileProvided = errors.New("no file provided")

	// ErrInvalidAsset is returned for malformed descriptors (unknown category,
	// missing sub-kind, unsafe owner id).
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrUploadFailed wraps remote blob store failures during save.
	ErrUploadFailed = errors.New("upload failed")

	// ErrWriteFailed wraps local filesystem failures during save.
	ErrWriteFailed = errors.New("write failed")
)

// Category is the asset family an upload belongs to.
type Category string

const (
	CategoryProfile  Category = "profile"
	CategoryProperty Category = "property"
	CategorySocial   Category = "social-media"
)

// Dir returns the storage directory for the category.
func (c Category) Dir() string {
	switch c {
	case CategoryProfile:
		return "profile-images"
	case CategoryProperty:
		return "property-images"
	case CategorySocial:
		return "instagram-media"
	default:
		return ""
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return c.Dir() != "" }

// SocialKind is the sub-kind of a social media asset.
type SocialKind string

const (
	SocialPost  SocialKind = "posts"
	SocialStory SocialKind = "stories"
	SocialReel  SocialKind = "reels"
)

// SocialKinds lists every known sub-kind.
var SocialKinds = []SocialKind{SocialPost, SocialStory, SocialReel}

// Valid reports whether k is a known sub-kind.
func (k SocialKind) Valid() bool {
	for _, known := range SocialKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Kind is the media kind of an asset.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ParseKind maps a form value to a Kind. Empty means image.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "image":
		return KindImage, nil
	case "video":
		return KindVideo, nil
	default:
		return "", fmt.Errorf("%w: unknown media kind %q", ErrInvalidAsset, s)
	}
}

// Location identifies where one family of assets lives.
type Location struct {
	Category Category
	SubKind  SocialKind
}

// Dir returns the directory (or key prefix) of the location, e.g.
// "profile-images" or "instagram-media/reels".
func (l Location) Dir() string {
	if l.Category == CategorySocial && l.SubKind != "" {
		return l.Category.Dir() + "/" + string(l.SubKind)
	}
	return l.Category.Dir()
}

func (l Location) String() string {
	if l.SubKind != "" {
		return string(l.Category) + "/" + string(l.SubKind)
	}
	return string(l.Category)
}

// KnownDir reports whether segment is the directory of some category.
func KnownDir(segment string) bool {
	switch segment {
	case CategoryProfile.Dir(), CategoryProperty.Dir(), CategorySocial.Dir():
		return true
	}
	return false
}

// AllDirs returns every directory the local backend keeps, social sub-kinds included.
func AllDirs() []string {
	dirs := []string{CategoryProfile.Dir(), CategoryProperty.Dir()}
	for _, k := range SocialKinds {
		dirs = append(dirs, Location{Category: CategorySocial, SubKind: k}.Dir())
	}
	return dirs
}

// File is an upload as extracted by the request layer.
type File struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Asset is everything needed to store one upload.
type Asset struct {
	Location
	OwnerID string
	Kind    Kind
	File
}

// Validate checks the descriptor before anything touches a backend.
func (a Asset) Validate() error {
	if len(a.Data) == 0 {
		return ErrNoFileProvided
	}
	if !a.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidAsset, a.Category)
	}
	if a.Category == CategorySocial && !a.SubKind.Valid() {
		return fmt.Errorf("%w: unknown social media kind %q", ErrInvalidAsset, a.SubKind)
	}
	if a.Category != CategorySocial && a.SubKind != "" {
		return fmt.Errorf("%w: sub-kind only applies to social media", ErrInvalidAsset)
	}
	switch a.Kind {
	case "", KindImage, KindVideo:
	default:
		return fmt.Errorf("%w: unknown media kind %q", ErrInvalidAsset, a.Kind)
	}
	if a.OwnerID == "" || a.OwnerID == "." ||
		strings.ContainsAny(a.OwnerID, `/\`) || strings.Contains(a.OwnerID, "..") {
		return fmt.Errorf("%w: bad owner id %q", ErrInvalidAsset, a.OwnerID)
	}
	return nil
}

// Extension returns the file extension for the asset, falling back to .mp4
// for videos and .jpg for everything else.
func Extension(a Asset) string {
	if ext := filenameExt(a.Filename); ext != "" {
		return ext
	}
	if a.Kind == KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

func filenameExt(name string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, `\`, "/")))
	if len(ext) < 2 || len(ext) > 11 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// NewKey builds {dir}/{owner_id}/{uuid}{ext}. Every call yields a new key.
func NewKey(a Asset) string {
	return a.Dir() + "/" + a.OwnerID + "/" + uuid.NewString() + Extension(a)
}

// ContentType returns the declared content type or, when none was sent,
// the type detected from the bytes.
func ContentType(f File) string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return mimetype.Detect(f.Data).String()
}
