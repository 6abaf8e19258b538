package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultRegion      = "us-east-1"
	credentialsTimeout = 10 * time.Second
)

// S3Config selects the bucket and, optionally, an S3-compatible endpoint.
// Credentials always come from the environment or instance role.
type S3Config struct {
	Bucket   string
	Region   string // empty = SDK default chain, then us-east-1
	Endpoint string // non-empty = custom endpoint with path-style addressing
}

// S3Store is a Store backed by an S3 bucket.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Store loads the ambient AWS configuration and verifies that
// credentials resolve. Any error means uploads should be disabled.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("no bucket configured")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}
	if awsCfg.Credentials == nil {
		return nil, errors.New("no aws credentials provider")
	}

	credCtx, cancel := context.WithTimeout(ctx, credentialsTimeout)
	defer cancel()
	if _, err := awsCfg.Credentials.Retrieve(credCtx); err != nil {
		return nil, fmt.Errorf("resolve aws credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		bucket:   cfg.Bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// Put uploads body to key. Objects smaller than one part go up in a single
// PutObject; larger ones use the multipart uploader.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	contentType := contentTypeFor(key)

	if size < manager.DefaultUploadPartSize {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
		})
		return err
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

// Location returns the s3:// URI of key.
func (s *S3Store) Location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".log", ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
