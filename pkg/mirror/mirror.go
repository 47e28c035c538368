// Package mirror keeps a copy of every uploaded artifact outside the platform so
// extraction output can be inspected during local development.
//
// The destination is chosen by URL scheme:
//
//	file:///tmp/airsync     local directory
//	s3://bucket/prefix      Amazon S3 via the multipart upload manager
//	gs://bucket/prefix      Google Cloud Storage
package mirror

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
)

// Mirror receives artifact copies
type Mirror interface {
	Put(ctx context.Context, name string, data []byte) error
	Close() error
}

// New opens the mirror described by cfg.URL
func New(ctx context.Context, cfg config.MirrorConfig, logger *zap.Logger) (Mirror, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mirror url")
	}

	switch u.Scheme {
	case "file", "":
		dir := u.Path
		if u.Scheme == "" {
			dir = cfg.URL
		}
		return NewFile(dir, logger)
	case "s3":
		return NewS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), cfg.Region, logger)
	case "gs":
		return NewGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), cfg.CredentialsFile, logger)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported mirror scheme %q", u.Scheme)
	}
}

// File writes artifacts into a local directory
type File struct {
	dir    string
	logger *zap.Logger
}

// NewFile creates the directory if needed
func NewFile(dir string, logger *zap.Logger) (*File, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mirror directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create mirror directory")
	}
	return &File{dir: dir, logger: logger.With(zap.String("mirror", "file"))}, nil
}

// Put writes data to dir/name
func (f *File) Put(_ context.Context, name string, data []byte) error {
	p := filepath.Join(f.dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to write mirror file")
	}
	f.logger.Debug("mirrored artifact", zap.String("path", p), zap.Int("bytes", len(data)))
	return nil
}

// Close is a no-op
func (f *File) Close() error { return nil }

// S3 uploads artifacts to a bucket
type S3 struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3 loads the default AWS configuration for region
func NewS3(ctx context.Context, bucket, prefix, region string, logger *zap.Logger) (*S3, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 mirror bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws config")
	}

	client := s3.NewFromConfig(cfg)
	return &S3{
		bucket: bucket,
		prefix: prefix,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 2
		}),
		logger: logger.With(zap.String("mirror", "s3"), zap.String("bucket", bucket)),
	}, nil
}

// Put uploads data under prefix/name
func (m *S3) Put(ctx context.Context, name string, data []byte) error {
	key := path.Join(m.prefix, name)
	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to mirror artifact to s3")
	}
	m.logger.Debug("mirrored artifact", zap.String("key", key))
	return nil
}

// Close is a no-op
func (m *S3) Close() error { return nil }

// GCS writes artifacts to a Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	logger *zap.Logger
}

// NewGCS creates a storage client, using credentialsFile when set
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string, logger *zap.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs mirror bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create gcs client")
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
		logger: logger.With(zap.String("mirror", "gcs"), zap.String("bucket", bucket)),
	}, nil
}

// Put writes data to prefix/name
func (m *GCS) Put(ctx context.Context, name string, data []byte) error {
	object := path.Join(m.prefix, name)
	w := m.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType(name)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to mirror artifact to gcs")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to finalize gcs mirror object")
	}
	m.logger.Debug("mirrored artifact", zap.String("object", object))
	return nil
}

// Close releases the storage client
func (m *GCS) Close() error {
	return m.client.Close()
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	}
	return "application/octet-stream"
}
