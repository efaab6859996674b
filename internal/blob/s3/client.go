// Package s3 implements cold-storage archival on S3-compatible object
// storage: a thin blob writer and the periodic archiver that sweeps aged
// opportunities and trades out of PostgreSQL.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vantrace/flasharb/internal/domain"
)

// Config holds object-storage connection parameters.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Client uploads objects to one bucket. It implements domain.BlobWriter.
type Client struct {
	s3     *awss3.Client
	bucket string
	logger *slog.Logger
}

// New builds the S3 client. A custom endpoint supports MinIO and other
// S3-compatible stores.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "s3")),
	}, nil
}

// Put uploads one object under the given key.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	putCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.s3.PutObject(putCtx, &awss3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", c.bucket, key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Client)(nil)
