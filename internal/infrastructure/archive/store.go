package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nerrad567/gray-logic-vision/internal/camera"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
)

const (
	defaultRegion = "us-east-1"
	defaultPrefix = "frames"

	// keyTimeLayout sorts lexically in capture order.
	keyTimeLayout = "20060102T150405.000000000Z"
)

// Archive errors.
var (
	// ErrDisabled is returned by New when archiving is not enabled.
	ErrDisabled = errors.New("archive: disabled")

	// ErrExists indicates an object with the same key is already stored.
	ErrExists = errors.New("archive: object already exists")

	// ErrUploadFailed wraps S3 errors from Put.
	ErrUploadFailed = errors.New("archive: upload failed")
)

// Archiver stores captured frames.
type Archiver interface {
	Put(ctx context.Context, c *camera.Capture) (key string, err error)
}

// Store archives frames to a single S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a Store from cfg. Static credentials are used when set;
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket required")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newStore(client, cfg.Bucket, cfg.Prefix), nil
}

func newStore(client *s3.Client, bucket, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key c is stored under.
func (s *Store) Key(c *camera.Capture) string {
	name := c.CapturedAt.UTC().Format(keyTimeLayout) + "." + c.Format.Extension()
	return path.Join(s.prefix, c.SerialNumber, name)
}

// Put uploads c and returns its key. The serial number and format are
// stored as object metadata.
func (s *Store) Put(ctx context.Context, c *camera.Capture) (string, error) {
	key := s.Key(c)

	// Create-only: S3 has no conditional put on every backend, so check first.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(c.Data),
		ContentLength: aws.Int64(int64(len(c.Data))),
		ContentType:   aws.String(c.Format.ContentType()),
		Metadata: map[string]string{
			"serial-number": c.SerialNumber,
			"format":        string(c.Format),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUploadFailed, key, err)
	}
	return key, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket}); err != nil {
		return fmt.Errorf("archive: bucket %s: %w", s.bucket, err)
	}
	return nil
}
