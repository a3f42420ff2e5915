package mirror

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tcai793/datamanager/internal/config"
)

// S3Mirror uploads copies to an S3 compatible bucket.
type S3Mirror struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
}

// NewS3Mirror builds a client from the default AWS credential chain. Keys in
// cfg override the chain, and S3Endpoint selects a non-AWS service with
// path-style addressing.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Mirror(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Mirror(client manager.UploadAPIClient, bucket, prefix string) *S3Mirror {
	return &S3Mirror{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.TrimPrefix(prefix, "/"),
		now:      time.Now,
	}
}

func (m *S3Mirror) key(path string) string {
	name := objectName(path, m.now())
	if m.prefix == "" {
		return name
	}
	return strings.TrimSuffix(m.prefix, "/") + "/" + name
}

func (m *S3Mirror) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	key := m.key(path)
	if _, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", m.bucket, key, err)
	}
	return "s3://" + m.bucket + "/" + key, nil
}

var _ Mirror = (*S3Mirror)(nil)
