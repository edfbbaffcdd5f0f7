// Package blob uploads originals and thumbnails to an S3-compatible
// object store (Cloudflare R2 in production).
package blob

import (
	"context"
	"io"
)

// Sink is a write-mostly object store. Failed deletes are logged and
// ignored by callers; uploads are retried on the next run because the
// catalogue tracks the is_uploaded flag.
type Sink interface {
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
	PutReader(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}
