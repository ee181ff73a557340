package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/smallbiznis/consultly/internal/config"
	"go.uber.org/fx"
)

var ErrNotConfigured = errors.New("object_store_not_configured")

// Uploader stores run artifacts.
type Uploader interface {
	Put(ctx context.Context, key string, contentType string, body []byte) error
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	bucket string
	client putObjectAPI
}

var Module = fx.Module("providers.objectstore",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns nil when no bucket is configured.
func NewFromConfig(cfg config.Config) Uploader {
	uploader, err := NewS3(cfg.Archive)
	if err != nil {
		return nil
	}
	return uploader
}

func NewS3(cfg config.ArchiveConfig) (*S3Uploader, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, ErrNotConfigured
	}
	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return &S3Uploader{bucket: bucket, client: s3.New(opts)}, nil
}

func (u *S3Uploader) Put(ctx context.Context, key string, contentType string, body []byte) error {
	if u == nil || u.client == nil {
		return ErrNotConfigured
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", u.bucket, key, err)
	}
	return nil
}
