package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3FileStore uploads bill images to an S3-compatible bucket.
type S3FileStore struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

// S3FileStoreConfig holds configuration for S3FileStore.
type S3FileStoreConfig struct {
	Bucket        string
	Region        string
	Endpoint      string // optional, for MinIO or LocalStack
	PublicBaseURL string // optional, defaults to the virtual-hosted S3 URL
}

// NewS3FileStore loads AWS credentials from the default chain.
func NewS3FileStore(ctx context.Context, cfg S3FileStoreConfig) (*S3FileStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := cfg.PublicBaseURL
	if base == "" {
		if cfg.Endpoint != "" {
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &S3FileStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
	}, nil
}

// Upload puts body at key and returns its public URL.
func (s *S3FileStore) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the URL a stored key is served from.
func (s *S3FileStore) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}
