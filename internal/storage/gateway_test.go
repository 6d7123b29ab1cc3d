package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/propnest/backend/internal/config"
	"github.com/propnest/backend/internal/media"
	"github.com/propnest/backend/internal/storage/local"
)

func newLocalGateway(t *testing.T) (*Gateway, *local.LocalBackend) {
	t.Helper()
	b, err := local.New(local.Config{RootDir: t.TempDir(), URLPrefix: "uploads"})
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return NewGateway(b), b
}

func jpeg() media.File {
	return media.File{Data: []byte("\xff\xd8\xff\xe0 fake jpeg"), Filename: "me.JPG", ContentType: "image/jpeg"}
}

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	mu        sync.Mutex
	deleteRes bool
	deleteErr error
	putErr    error
	deletes   []string
	puts      []string
}

func (f *fakeBackend) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts = append(f.puts, key)
	return "https://cdn.test/" + key, nil
}

func (f *fakeBackend) Delete(_ context.Context, ref string, _ media.Location) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	return f.deleteRes, f.deleteErr
}

func (f *fakeBackend) Key(ref string, _ media.Location) string {
	return strings.TrimPrefix(ref, "https://cdn.test/")
}

func (f *fakeBackend) Type() string { return "fake" }
func (f *fakeBackend) Close() error { return nil }

func TestSaveDeleteRoundTrip(t *testing.T) {
	g, b := newLocalGateway(t)
	ctx := context.Background()

	ref, err := g.SaveProfileImage(ctx, "u1", jpeg())
	if err != nil {
		t.Fatalf("SaveProfileImage: %v", err)
	}
	if !strings.HasPrefix(ref, "profile-images/u1/") || !strings.HasSuffix(ref, ".jpg") {
		t.Errorf("unexpected ref %q", ref)
	}
	if _, err := os.Stat(filepath.Join(b.RootDir(), filepath.FromSlash(ref))); err != nil {
		t.Fatalf("saved file missing: %v", err)
	}

	if !g.DeleteProfileImage(ctx, ref) {
		t.Fatal("first delete should report true")
	}
	if g.DeleteProfileImage(ctx, ref) {
		t.Fatal("second delete should report false")
	}
}

func TestDeleteAcceptsEveryLocalShape(t *testing.T) {
	for _, shape := range []func(ref string) string{
		func(ref string) string { return ref },
		func(ref string) string { return "/uploads/" + ref },
		func(ref string) string { return "http://api.propnest.test/uploads/" + ref },
	} {
		g, _ := newLocalGateway(t)
		ctx := context.Background()

		ref, err := g.SavePropertyImage(ctx, "p9", jpeg())
		if err != nil {
			t.Fatalf("SavePropertyImage: %v", err)
		}
		in := shape(ref)
		if !g.DeletePropertyImage(ctx, in) {
			t.Errorf("DeletePropertyImage(%q) = false", in)
		}
	}
}

func TestOwnedKey(t *testing.T) {
	g, _ := newLocalGateway(t)
	profile := media.Location{Category: media.CategoryProfile}
	stories := media.Location{Category: media.CategorySocial, SubKind: media.SocialStory}

	tests := []struct {
		name  string
		ref   string
		loc   media.Location
		owner string
		want  string
	}{
		{"key", "profile-images/u1/a.jpg", profile, "u1", "profile-images/u1/a.jpg"},
		{"rooted", "/uploads/profile-images/u1/a.jpg", profile, "u1", "profile-images/u1/a.jpg"},
		{"url", "https://api.test/uploads/profile-images/u1/a.jpg", profile, "u1", "profile-images/u1/a.jpg"},
		{"owner relative", "u1/a.jpg", profile, "u1", "profile-images/u1/a.jpg"},
		{"social", "instagram-media/stories/u1/s.mp4", stories, "u1", "instagram-media/stories/u1/s.mp4"},
		{"other owner", "profile-images/u2/a.jpg", profile, "u1", ""},
		{"owner prefix only", "profile-images/u10/a.jpg", profile, "u1", ""},
		{"traversal", "profile-images/u1/../u2/a.jpg", profile, "u1", ""},
		{"other category", "property-images/u1/a.jpg", profile, "u1", ""},
		{"nested", "profile-images/u1/sub/a.jpg", profile, "u1", ""},
		{"owner dir", "profile-images/u1/", profile, "u1", ""},
		{"flat", "a.jpg", profile, "u1", ""},
		{"empty owner", "profile-images//a.jpg", profile, "", ""},
		{"empty ref", "", profile, "u1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.OwnedKey(tt.ref, tt.loc, tt.owner)
			if got != tt.want || ok != (tt.want != "") {
				t.Errorf("OwnedKey(%q, %s, %q) = %q, %v; want %q", tt.ref, tt.loc, tt.owner, got, ok, tt.want)
			}
		})
	}
}

func TestDeleteEmptyRefSkipsBackend(t *testing.T) {
	fb := &fakeBackend{deleteRes: true}
	g := NewGateway(fb)

	if g.Delete(context.Background(), "", media.Location{Category: media.CategoryProfile}) {
		t.Error("empty ref should report false")
	}
	if len(fb.deletes) != 0 {
		t.Errorf("backend was called: %v", fb.deletes)
	}
}

func TestDeleteFoldsBackendErrors(t *testing.T) {
	fb := &fakeBackend{deleteErr: errors.New("connection refused")}
	g := NewGateway(fb)

	if g.DeletePropertyImage(context.Background(), "property-images/p/a.jpg") {
		t.Error("backend failure should fold into false")
	}
	if len(fb.deletes) != 1 {
		t.Errorf("expected one backend call, got %d", len(fb.deletes))
	}
}

func TestSaveRejectsEmptyFile(t *testing.T) {
	fb := &fakeBackend{}
	g := NewGateway(fb)

	_, err := g.SaveProfileImage(context.Background(), "u1", media.File{Filename: "a.jpg"})
	if !errors.Is(err, media.ErrNoFileProvided) {
		t.Fatalf("expected ErrNoFileProvided, got %v", err)
	}
	if len(fb.puts) != 0 {
		t.Error("backend must not be touched for an empty file")
	}
}

func TestSaveRejectsInvalidAsset(t *testing.T) {
	g := NewGateway(&fakeBackend{})
	ctx := context.Background()

	if _, err := g.SaveSocialMedia(ctx, "tweets", "u1", media.KindImage, jpeg()); !errors.Is(err, media.ErrInvalidAsset) {
		t.Errorf("unknown sub-kind: got %v", err)
	}
	if _, err := g.SaveProfileImage(ctx, "../etc", jpeg()); !errors.Is(err, media.ErrInvalidAsset) {
		t.Errorf("traversing owner: got %v", err)
	}
}

func TestSavePropagatesBackendError(t *testing.T) {
	cause := errors.New("bucket gone")
	fb := &fakeBackend{putErr: errors.Join(media.ErrUploadFailed, cause)}
	g := NewGateway(fb)

	_, err := g.SavePropertyImage(context.Background(), "p1", jpeg())
	if !errors.Is(err, media.ErrUploadFailed) || !errors.Is(err, cause) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSaveSocialMediaDefaults(t *testing.T) {
	fb := &fakeBackend{}
	g := NewGateway(fb)
	ctx := context.Background()

	video := media.File{Data: []byte("not really mp4"), Filename: "clip"}
	ref, err := g.SaveSocialMedia(ctx, media.SocialReel, "u1", media.KindVideo, video)
	if err != nil {
		t.Fatalf("SaveSocialMedia: %v", err)
	}
	if !strings.HasPrefix(ref, "https://cdn.test/instagram-media/reels/u1/") || !strings.HasSuffix(ref, ".mp4") {
		t.Errorf("video ref = %q", ref)
	}

	img := media.File{Data: []byte("pixels"), Filename: ""}
	ref, err = g.SaveSocialMedia(ctx, media.SocialPost, "u1", media.KindImage, img)
	if err != nil {
		t.Fatalf("SaveSocialMedia: %v", err)
	}
	if !strings.HasPrefix(ref, "https://cdn.test/instagram-media/posts/u1/") || !strings.HasSuffix(ref, ".jpg") {
		t.Errorf("image ref = %q", ref)
	}
}

func TestConcurrentSavesDoNotCollide(t *testing.T) {
	g, _ := newLocalGateway(t)
	ctx := context.Background()

	const n = 32
	refs := make([]string, n)
	var eg errgroup.Group
	for i := range n {
		eg.Go(func() error {
			ref, err := g.SaveProfileImage(ctx, "same-owner", jpeg())
			refs[i] = ref
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("concurrent save: %v", err)
	}

	seen := make(map[string]bool, n)
	for _, ref := range refs {
		if seen[ref] {
			t.Fatalf("duplicate ref %q", ref)
		}
		seen[ref] = true
	}
}

func TestNewBackendSelection(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBackend(context.Background(), &config.Config{
		DeployTarget:         config.TargetLocal,
		LocalUploadDir:       dir,
		LocalUploadURLPrefix: "uploads",
	})
	if err != nil {
		t.Fatalf("NewBackend(local): %v", err)
	}
	if b.Type() != "local" {
		t.Errorf("Type = %q, want local", b.Type())
	}
	if _, err := os.Stat(filepath.Join(dir, "instagram-media", "stories")); err != nil {
		t.Errorf("local dirs not created: %v", err)
	}

	unused := filepath.Join(t.TempDir(), "never")
	b, err = NewBackend(context.Background(), &config.Config{
		DeployTarget:    config.TargetManaged,
		LocalUploadDir:  unused,
		S3Bucket:        "media",
		S3Region:        "us-east-1",
		S3AccessKey:     "test",
		S3SecretKey:     "test",
		S3Endpoint:      "http://127.0.0.1:9",
		S3UsePathStyle:  true,
		S3PublicBaseURL: "",
	})
	if err != nil {
		t.Fatalf("NewBackend(managed): %v", err)
	}
	if b.Type() != "s3" {
		t.Errorf("Type = %q, want s3", b.Type())
	}
	if _, err := os.Stat(unused); !os.IsNotExist(err) {
		t.Error("managed deployment must not create local directories")
	}
}
