package retention

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader ships a written archive off the host.
type Uploader interface {
	Upload(ctx context.Context, localPath string) error
}

// S3Config addresses an S3-compatible bucket for audit archives.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether an endpoint is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// S3Uploader uploads archives with minio-go.
type S3Uploader struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Uploader creates an uploader. The bucket is created on first upload
// when missing.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "adcm-audit"
	}
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
		}
	}
	object := filepath.Base(localPath)
	if u.prefix != "" {
		object = path.Join(u.prefix, object)
	}
	_, err = u.client.FPutObject(ctx, u.bucket, object, localPath, minio.PutObjectOptions{ContentType: "application/gzip"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", object, err)
	}
	return nil
}
