package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"
	"github.com/rs/zerolog"
)

// B2Config holds Backblaze B2 settings.
type B2Config struct {
	KeyID          string
	ApplicationKey string
	Bucket         string
}

// B2Uploader streams objects to a Backblaze B2 bucket.
type B2Uploader struct {
	bucket *b2.Bucket
	logger zerolog.Logger
}

// NewB2Uploader authorizes the account and resolves the bucket.
func NewB2Uploader(ctx context.Context, cfg B2Config, logger zerolog.Logger) (*B2Uploader, error) {
	client, err := b2.NewClient(ctx, cfg.KeyID, cfg.ApplicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create B2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", cfg.Bucket, err)
	}

	return &B2Uploader{
		bucket: bucket,
		logger: logger.With().Str("component", "objectstore").Str("backend", BackendB2).Logger(),
	}, nil
}

// Name returns the backend label.
func (u *B2Uploader) Name() string {
	return BackendB2
}

// Upload streams the content through a B2 writer.
func (u *B2Uploader) Upload(ctx context.Context, in Input, opts Options) (*Result, error) {
	p, err := prepare(in, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	key := ObjectKey(opts.Folder, p.format)
	obj := u.bucket.Object(key)

	attrs := &b2.Attrs{
		ContentType: opts.ContentType,
		Info: map[string]string{
			"original-name": opts.Filename,
			"sha256":        p.checksum,
		},
	}
	w := obj.NewWriter(ctx).WithAttrs(attrs)

	if _, err := io.Copy(w, p.body); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: b2 write %s: %v", ErrUploadFailed, key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: b2 close %s: %v", ErrUploadFailed, key, err)
	}

	u.logger.Debug().Str("key", key).Int64("size", p.size).Msg("object uploaded")
	return p.result(key, obj.URL(), BackendB2), nil
}

var _ Uploader = (*B2Uploader)(nil)
