// Package archive stores the raw source payload of every fetch so a run can
// be audited or replayed after the warehouse rows have been replaced.
package archive

import (
	"bytes"
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// Archiver persists one raw payload.
type Archiver interface {
	Archive(ctx context.Context, obj Object) error
}

// Object identifies an archived payload.
type Object struct {
	RunID   string
	Tenant  string
	Entity  string
	Records int
	Payload []byte
}

// Config configures the S3 archive. An empty bucket disables archiving.
type Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// PathStyle addresses the bucket in the path, as MinIO expects.
	PathStyle bool `yaml:"path_style"`
}

// Nop discards payloads.
type Nop struct{}

// Archive does nothing.
func (Nop) Archive(context.Context, Object) error { return nil }

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 writes gzip-compressed payloads to
// s3://bucket/prefix/run_id/tenant/entity.json.gz
type S3 struct {
	uploader uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// New returns Nop when no bucket is configured, otherwise an S3 archiver
// using the default AWS credential chain.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Archiver, error) {
	if cfg.Bucket == "" {
		return Nop{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newS3(manager.NewUploader(client), cfg, logger), nil
}

func newS3(u uploader, cfg Config, logger *zap.Logger) *S3 {
	return &S3{
		uploader: u,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		logger:   logger.With(zap.String("component", "archive")),
	}
}

// Key returns the object key of obj.
func (a *S3) Key(obj Object) string {
	return path.Join(a.prefix, obj.RunID, safe(obj.Tenant), obj.Entity+".json.gz")
}

// Archive compresses and uploads obj.Payload.
func (a *S3) Archive(ctx context.Context, obj Object) error {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create gzip writer")
	}
	if _, err := zw.Write(obj.Payload); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress payload")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress payload")
	}

	key := a.Key(obj)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"tenant":  obj.Tenant,
			"entity":  obj.Entity,
			"records": strconv.Itoa(obj.Records),
			"created": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to upload archive").
			WithDetail("bucket", a.bucket).WithDetail("key", key)
	}

	a.logger.Debug("archived payload",
		zap.String("key", key),
		zap.Int("raw_bytes", len(obj.Payload)),
		zap.Int("stored_bytes", buf.Len()))
	return nil
}

// safe makes a tenant name usable as a single key segment.
func safe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '_'
		}
		return r
	}, s)
}
