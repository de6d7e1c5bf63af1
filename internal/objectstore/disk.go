package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Sharding of the uploads directory by content hash.
const (
	shardLevels = 2
	shardWidth  = 2
)

// ShardedPath returns the relative path for a content hash.
//
// Example with the default sharding (2 levels, 2 chars each):
//
//	hash: "abcdef1234567890..."
//	result: "ab/cd/abcdef1234567890..."
func ShardedPath(contentHash string) string {
	if len(contentHash) < shardLevels*shardWidth {
		return contentHash
	}

	components := make([]string, 0, shardLevels+1)
	offset := 0
	for i := 0; i < shardLevels; i++ {
		components = append(components, contentHash[offset:offset+shardWidth])
		offset += shardWidth
	}
	components = append(components, contentHash)

	return filepath.Join(components...)
}

// Disk stores objects in a local uploads directory served at <baseURL>/uploads.
// Identical content maps to the same file.
type Disk struct {
	dir     string
	baseURL string
	logger  zerolog.Logger
}

// NewDisk creates a Disk rooted at dir.
func NewDisk(dir, baseURL string, logger zerolog.Logger) *Disk {
	return &Disk{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With().Str("component", "objectstore").Str("backend", BackendLocal).Logger(),
	}
}

// Name returns the backend label.
func (d *Disk) Name() string {
	return BackendLocal
}

// Dir returns the uploads directory.
func (d *Disk) Dir() string {
	return d.dir
}

// Upload writes the content to its sharded path through a temp file and rename.
func (d *Disk) Upload(ctx context.Context, in Input, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := prepare(in, opts)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	rel := filepath.ToSlash(ShardedPath(p.checksum))
	name := rel
	if p.format != "" {
		name += "." + p.format
	}
	full := filepath.Join(d.dir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, p.body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	d.logger.Debug().Str("path", full).Int64("size", p.size).Msg("object stored on disk")
	return p.result("local/"+name, d.baseURL+"/uploads/"+name, BackendLocal), nil
}

// Fallback uploads to a primary provider and, when it fails, to a Disk.
type Fallback struct {
	primary Uploader
	disk    *Disk
	logger  zerolog.Logger
}

// NewFallback wraps primary with a local-disk fallback.
func NewFallback(primary Uploader, disk *Disk, logger zerolog.Logger) *Fallback {
	return &Fallback{
		primary: primary,
		disk:    disk,
		logger:  logger.With().Str("component", "objectstore").Logger(),
	}
}

// Name returns the primary backend label.
func (f *Fallback) Name() string {
	return f.primary.Name()
}

// Upload tries the primary provider first.
func (f *Fallback) Upload(ctx context.Context, in Input, opts Options) (*Result, error) {
	// The primary may consume the reader, so make it rewindable up front.
	if in.Path == "" && in.Reader != nil {
		if _, ok := in.Reader.(io.ReadSeeker); !ok {
			data, err := io.ReadAll(in.Reader)
			if err != nil {
				return nil, fmt.Errorf("failed to buffer upload: %w", err)
			}
			in.Reader = bytes.NewReader(data)
		}
	}

	res, err := f.primary.Upload(ctx, in, opts)
	if err == nil {
		return res, nil
	}

	f.logger.Warn().
		Err(err).
		Str("backend", f.primary.Name()).
		Str("filename", opts.Filename).
		Msg("object store upload failed, storing on local disk")

	if rs, ok := in.Reader.(io.Seeker); ok && in.Path == "" {
		if _, serr := rs.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("failed to rewind upload: %w", serr)
		}
	}

	res, derr := f.disk.Upload(ctx, in, opts)
	if derr != nil {
		return nil, fmt.Errorf("%w (disk fallback: %v)", err, derr)
	}
	res.Fallback = true
	return res, nil
}

var (
	_ Uploader = (*Disk)(nil)
	_ Uploader = (*Fallback)(nil)
)
