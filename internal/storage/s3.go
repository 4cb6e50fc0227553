package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/bobarin/storyreel/internal/logging"
)

// S3Config configures the S3 (or S3-compatible) uploader.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible stores
	ForcePathStyle  bool
	PublicBaseURL   string // empty = virtual-hosted AWS URL
	AccessKeyID     string
	SecretAccessKey string
}

// S3 uploads to an S3 bucket.
type S3 struct {
	client  *s3.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
}

var _ Uploader = (*S3)(nil)

// NewS3 builds an S3 uploader. The SDK's default credential chain is used
// unless static credentials are configured.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	logger = logging.OrNop(logger)

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBaseURL(cfg, awsCfg.Region),
		logger:  logger,
	}, nil
}

func publicBaseURL(cfg S3Config, region string) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
}

// UploadFile uploads a local file and returns its public URL. The SDK
// retries transient failures itself.
func (u *S3) UploadFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file %s: %w", localPath, err)
	}
	size := info.Size()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", u.bucket, key, err)
	}

	u.logger.Info("uploaded artifact",
		zap.String("backend", "s3"),
		zap.String("bucket", u.bucket),
		zap.String("key", key),
		zap.Int64("bytes", size))
	return u.baseURL + "/" + key, nil
}
