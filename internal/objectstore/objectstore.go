// Package objectstore uploads file content to an external object store and
// describes the stored object. Providers are S3-compatible services, Backblaze
// B2 and a local uploads directory used as a degraded fallback.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/prn-tf/cloudidada/internal/pkg/crypto"
)

// Backend labels.
const (
	BackendS3    = "s3"
	BackendB2    = "b2"
	BackendLocal = "local"
)

// maxHeaderBytes bounds the prefix kept for image dimension detection.
const maxHeaderBytes = 256 << 10

var (
	// ErrNoInput indicates neither a reader nor a path was supplied.
	ErrNoInput = errors.New("objectstore: no input")

	// ErrUploadFailed wraps provider failures.
	ErrUploadFailed = errors.New("objectstore: upload failed")
)

// Input is the content to upload: either an in-memory reader or a file path.
type Input struct {
	Reader io.Reader
	Path   string
	Size   int64
}

// Options describes where and how the object is stored.
type Options struct {
	Folder       string
	Tags         []string
	ResourceType string
	Filename     string
	ContentType  string
}

// Result describes an uploaded object.
type Result struct {
	PublicID string
	URL      string
	Format   string
	Width    *int
	Height   *int
	Bytes    int64
	Backend  string
	Checksum string

	// Fallback is set when the object landed in the local uploads directory
	// because the configured provider failed.
	Fallback bool
}

// Uploader stores content in an object store.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, in Input, opts Options) (*Result, error)
}

// payload is an inspected, rewindable upload body.
type payload struct {
	body     io.ReadSeeker
	size     int64
	checksum string
	format   string
	width    *int
	height   *int
	closer   func() error
}

func (p *payload) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func (p *payload) result(publicID, url, backend string) *Result {
	return &Result{
		PublicID: publicID,
		URL:      url,
		Format:   p.format,
		Width:    p.width,
		Height:   p.height,
		Bytes:    p.size,
		Backend:  backend,
		Checksum: p.checksum,
	}
}

// prepare opens the input, computes checksum, size and image dimensions in one
// pass, then rewinds the body for the provider.
func prepare(in Input, opts Options) (*payload, error) {
	body, closer, err := rewindable(in)
	if err != nil {
		return nil, err
	}

	head := &headBuffer{limit: maxHeaderBytes}
	sum := crypto.NewChecksum()
	if _, err := io.Copy(sum, io.TeeReader(body, head)); err != nil {
		_ = closer()
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		_ = closer()
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}

	p := &payload{
		body:     body,
		size:     sum.Len(),
		checksum: sum.Hex(),
		format:   FormatOf(opts.Filename, opts.ContentType),
		closer:   closer,
	}

	if strings.HasPrefix(opts.ContentType, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(head.buf)); err == nil {
			w, h := cfg.Width, cfg.Height
			p.width, p.height = &w, &h
		}
	}
	return p, nil
}

// rewindable returns a seekable body for the input. Non-seekable readers are buffered.
func rewindable(in Input) (io.ReadSeeker, func() error, error) {
	noop := func() error { return nil }

	switch {
	case in.Path != "":
		f, err := os.Open(in.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open upload: %w", err)
		}
		return f, f.Close, nil
	case in.Reader != nil:
		if rs, ok := in.Reader.(io.ReadSeeker); ok {
			return rs, noop, nil
		}
		data, err := io.ReadAll(in.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to buffer upload: %w", err)
		}
		return bytes.NewReader(data), noop, nil
	default:
		return nil, nil, ErrNoInput
	}
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

// FormatOf returns the file format (extension without the dot), derived from
// the filename or, failing that, from the content type.
func FormatOf(filename, contentType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		return ext
	}
	if m := mimetype.Lookup(contentType); m != nil {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return ""
}

// ObjectKey returns "<folder>/<uuid>.<format>".
func ObjectKey(folder, format string) string {
	name := uuid.NewString()
	if format != "" {
		name += "." + format
	}
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}
