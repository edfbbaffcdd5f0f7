package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kozaktomas/facepic/internal/config"
)

// R2 is the Cloudflare R2 sink, speaking the S3 protocol through the
// minio client.
type R2 struct {
	client *minio.Client
	bucket string
}

var _ Sink = (*R2)(nil)

// NewR2 builds the sink from blob credentials. The endpoint defaults to
// the account-scoped R2 hostname unless one is configured explicitly.
func NewR2(cfg *config.BlobConfig) (*R2, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("blob storage is not configured")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	secure := true
	host := endpoint
	if strings.HasPrefix(endpoint, "https://") {
		host = strings.TrimPrefix(endpoint, "https://")
	} else if strings.HasPrefix(endpoint, "http://") {
		host = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("creating R2 client: %w", err)
	}

	return &R2{client: client, bucket: cfg.Bucket}, nil
}

func (r *R2) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	return r.PutReader(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (r *R2) PutReader(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := r.client.PutObject(ctx, r.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (r *R2) Delete(ctx context.Context, key string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
