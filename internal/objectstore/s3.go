package objectstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config holds the settings of an S3-compatible provider.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// PublicBaseURL is prepended to object keys to build public URLs.
	// When empty the virtual-hosted AWS URL is used.
	PublicBaseURL string
}

// putObjectAPI is the subset of the S3 client used by S3Uploader.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads objects with PutObject.
type S3Uploader struct {
	client putObjectAPI
	cfg    S3Config
	logger zerolog.Logger
}

// NewS3Uploader builds an S3 client from static credentials, or from the
// default credential chain when none are configured.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Uploader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Uploader(client, cfg, logger), nil
}

func newS3Uploader(client putObjectAPI, cfg S3Config, logger zerolog.Logger) *S3Uploader {
	return &S3Uploader{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "objectstore").Str("backend", BackendS3).Logger(),
	}
}

// Name returns the backend label.
func (u *S3Uploader) Name() string {
	return BackendS3
}

// Upload stores the content under "<folder>/<uuid>.<format>".
func (u *S3Uploader) Upload(ctx context.Context, in Input, opts Options) (*Result, error) {
	p, err := prepare(in, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	key := ObjectKey(opts.Folder, p.format)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          p.body,
		ContentLength: aws.Int64(p.size),
		Metadata: map[string]string{
			"original-name": opts.Filename,
			"sha256":        p.checksum,
		},
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Tags) > 0 {
		input.Metadata["tags"] = strings.Join(opts.Tags, ",")
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: s3 put %s: %v", ErrUploadFailed, key, err)
	}

	u.logger.Debug().Str("key", key).Int64("size", p.size).Msg("object uploaded")
	return p.result(key, u.publicURL(key), BackendS3), nil
}

func (u *S3Uploader) publicURL(key string) string {
	if u.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(u.cfg.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}

var _ Uploader = (*S3Uploader)(nil)
