package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ahrav/go-warden/internal/ports"
)

// DefaultS3Region is used when no region is configured.
const DefaultS3Region = "us-east-1"

// S3Store implements ports.BlobStore for AWS S3 and S3-compatible services.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3 store. Explicit credentials are used when both
// keys are set; otherwise the default chain (environment, IAM role) applies.
func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.S3Region
	if region == "" {
		region = DefaultS3Region
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
}

// Put uploads data under key. The body is buffered so the SDK can sign a
// seekable payload.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return ports.NewStoreError("s3", key, "put", err)
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return ports.NewStoreError("s3", key, "put", err)
	}
	if contentType == "" {
		contentType = ContentTypeFor(cleaned)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(cleaned),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return ports.NewStoreError("s3", key, "put", err)
	}
	return nil
}

// Get downloads the object under key.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, ports.NewStoreError("s3", key, "get", err)
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ports.NewStoreError("s3", key, "get", fmt.Errorf("%w: %v", ports.ErrNotFound, err))
		}
		return nil, ports.NewStoreError("s3", key, "get", err)
	}
	return result.Body, nil
}

// Delete removes the object under key. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return ports.NewStoreError("s3", key, "delete", err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return ports.NewStoreError("s3", key, "delete", err)
	}
	return nil
}

var _ ports.BlobStore = (*S3Store)(nil)
