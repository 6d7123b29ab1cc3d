// Package s3 provides an S3-compatible media backend with public-read objects.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/media"
	"github.com/propnest/backend/internal/metrics"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint      string // empty for AWS, set for MinIO and friends
	Bucket        string
	Region        string
	AccessKey     string // empty uses the default credential chain
	SecretKey     string
	PublicBaseURL string // empty derives one from endpoint/bucket/region
	UsePathStyle  bool
}

// ObjectAPI is the subset of *s3.Client the backend uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend stores media as public-read objects.
type S3Backend struct {
	client     ObjectAPI
	bucket     string
	publicBase string
}

// New creates an S3 backend from Config.
func New(ctx context.Context, cfg Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg), nil
}

// NewWithClient wires an existing client, e.g. a fake in tests.
func NewWithClient(client ObjectAPI, cfg Config) *S3Backend {
	return &S3Backend{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: publicBaseURL(cfg),
	}
}

func publicBaseURL(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		endpoint := strings.TrimRight(cfg.Endpoint, "/")
		if cfg.UsePathStyle {
			return endpoint + "/" + cfg.Bucket
		}
		if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
			return u.Scheme + "://" + cfg.Bucket + "." + u.Host
		}
		return endpoint + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// PublicBaseURL returns the prefix of every reference this backend returns.
func (b *S3Backend) PublicBaseURL() string { return b.publicBase }

// Put uploads data under key with public-read access and returns its URL.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	start := time.Now()

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		metrics.RecordStorageOperation("s3", "put_object", time.Since(start), false)
		return "", fmt.Errorf("%w: put object %s: %w", media.ErrUploadFailed, key, err)
	}

	metrics.RecordStorageOperation("s3", "put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(data)))
	return b.publicBase + "/" + key, nil
}

// Delete removes the object behind ref, which may be a full URL or a bare
// key. The key recovered from the URL is tried first, then the reference
// exactly as given. Missing objects yield false, nil.
func (b *S3Backend) Delete(ctx context.Context, ref string, _ media.Location) (bool, error) {
	attempts := []string{b.keyFromRef(ref)}
	if ref != attempts[0] {
		attempts = append(attempts, ref)
	}

	var errs []error
	for _, key := range attempts {
		deleted, err := b.deleteKey(ctx, key)
		if deleted {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}

// deleteKey checks the object exists, then removes it. S3 reports success for
// deletes of absent keys, so the head request is what detects "not found".
func (b *S3Backend) deleteKey(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordStorageOperation("s3", "head_object", time.Since(start), true)
			return false, nil
		}
		metrics.RecordStorageOperation("s3", "head_object", time.Since(start), false)
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	metrics.RecordStorageOperation("s3", "head_object", time.Since(start), true)

	start = time.Now()
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordStorageOperation("s3", "delete_object", time.Since(start), true)
			return false, nil
		}
		metrics.RecordStorageOperation("s3", "delete_object", time.Since(start), false)
		return false, fmt.Errorf("delete object %s: %w", key, err)
	}

	metrics.RecordStorageOperation("s3", "delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", zap.String("key", key))
	return true, nil
}

// keyFromRef strips the public host (and a path-style bucket segment) from a
// URL reference. Bare keys only lose a leading slash.
func (b *S3Backend) keyFromRef(ref string) string {
	if rest, ok := strings.CutPrefix(ref, b.publicBase+"/"); ok {
		return stripQuery(rest)
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimPrefix(ref, "/")
	}

	key := strings.TrimPrefix(u.Path, "/")
	if !strings.HasPrefix(u.Host, b.bucket+".") {
		key = strings.TrimPrefix(key, b.bucket+"/")
	}
	return key
}

// Key returns the object key behind ref.
func (b *S3Backend) Key(ref string, _ media.Location) string { return b.keyFromRef(ref) }

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }
