package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/metrics"
	"github.com/prn-tf/cloudidada/internal/notify"
	"github.com/prn-tf/cloudidada/internal/objectstore"
	"github.com/prn-tf/cloudidada/internal/pkg/crypto"
)

// Listing defaults.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// FileConfig holds upload policy.
type FileConfig struct {
	// AllowedMimeTypes is the allow-list. Entries may end in "/*" to allow a
	// whole family. An empty list allows every type.
	AllowedMimeTypes []string

	// MaxUploadBytes rejects larger uploads. Zero disables the check.
	MaxUploadBytes int64

	// DefaultFolder is used when the request names no folder.
	DefaultFolder string
}

// FileService handles uploads, listings and usage stats.
type FileService struct {
	store      Store
	uploader   objectstore.Uploader
	sink       notify.Sink
	activities *ActivityRecorder
	metrics    *metrics.Metrics
	cfg        FileConfig
	logger     zerolog.Logger
}

// NewFileService creates a new FileService. A nil sink discards events.
func NewFileService(
	s Store,
	uploader objectstore.Uploader,
	sink notify.Sink,
	activities *ActivityRecorder,
	m *metrics.Metrics,
	cfg FileConfig,
	logger zerolog.Logger,
) *FileService {
	if sink == nil {
		sink = notify.Nop{}
	}
	if cfg.DefaultFolder == "" {
		cfg.DefaultFolder = "cloudidada"
	}
	return &FileService{
		store:      s,
		uploader:   uploader,
		sink:       sink,
		activities: activities,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With().Str("service", "file").Logger(),
	}
}

// UploadInput describes an upload. Exactly one of Reader or Path is set.
type UploadInput struct {
	User        *domain.User
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
	Path        string
	Folder      string
	Tags        []string
}

// Upload validates the file, stores it in the object store and records its metadata.
func (s *FileService) Upload(ctx context.Context, input UploadInput) (*domain.File, error) {
	if input.Reader == nil && input.Path == "" {
		return nil, domain.ErrNoFile
	}
	if !s.mimeAllowed(input.ContentType) {
		return nil, domain.NewDomainError(domain.ErrFileTypeNotAllowed, "type "+input.ContentType, input.Filename)
	}
	if s.cfg.MaxUploadBytes > 0 && input.Size > s.cfg.MaxUploadBytes {
		return nil, domain.NewDomainError(domain.ErrFileTooLarge, fmt.Sprintf("limit is %d bytes", s.cfg.MaxUploadBytes), input.Filename)
	}

	folder := input.Folder
	if folder == "" {
		folder = s.cfg.DefaultFolder
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}

	res, err := s.uploader.Upload(ctx, objectstore.Input{
		Reader: input.Reader,
		Path:   input.Path,
		Size:   input.Size,
	}, objectstore.Options{
		Folder:       folder,
		Tags:         tags,
		ResourceType: "auto",
		Filename:     input.Filename,
		ContentType:  input.ContentType,
	})
	if err != nil {
		s.recordUpload(s.uploader.Name(), metrics.OutcomeError, 0)
		s.logger.Error().Err(err).Str("filename", input.Filename).Msg("object store upload failed")
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	s.recordUpload(res.Backend, metrics.OutcomeOK, res.Bytes)

	size := input.Size
	if size <= 0 {
		size = res.Bytes
	}

	file := &domain.File{
		ID:           crypto.NewID(crypto.FileIDPrefix),
		UserID:       input.User.ID,
		OriginalName: input.Filename,
		RemoteID:     res.PublicID,
		URL:          res.URL,
		Size:         size,
		MimeType:     input.ContentType,
		Format:       res.Format,
		Width:        res.Width,
		Height:       res.Height,
		Checksum:     res.Checksum,
		Folder:       folder,
		Tags:         tags,
		Storage:      res.Backend,
		UploadedAt:   time.Now().UTC(),
	}

	if err := s.store.PutFile(ctx, file); err != nil {
		s.logger.Error().Err(err).Str("file_id", file.ID).Msg("failed to store file record")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	// Not synchronized with concurrent uploads by the same user.
	if err := s.store.IncrementUsage(ctx, input.User.ID, size, 1); err != nil {
		s.logger.Warn().Err(err).Str("user_id", input.User.ID).Msg("failed to update usage")
	}

	s.activities.Record(ctx, domain.ActionFileUploaded, map[string]any{
		"fileId":   file.ID,
		"fileName": file.OriginalName,
		"fileSize": file.Size,
		"userName": input.User.UserName,
		"userId":   input.User.ID,
		"mimetype": file.MimeType,
		"folder":   file.Folder,
		"storage":  file.Storage,
		"url":      file.URL,
	})

	s.sink.Emit(notify.EventFileUploaded, map[string]any{
		"fileId":   file.ID,
		"fileName": file.OriginalName,
		"url":      file.URL,
		"message":  "File uploaded successfully",
	})

	s.logger.Info().
		Str("file_id", file.ID).
		Str("user_id", file.UserID).
		Int64("size", file.Size).
		Str("storage", file.Storage).
		Bool("fallback", res.Fallback).
		Msg("file uploaded")

	return file, nil
}

func (s *FileService) mimeAllowed(contentType string) bool {
	if len(s.cfg.AllowedMimeTypes) == 0 {
		return true
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, allowed := range s.cfg.AllowedMimeTypes {
		allowed = strings.ToLower(allowed)
		if family, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(contentType, family+"/") {
				return true
			}
			continue
		}
		if contentType == allowed {
			return true
		}
	}
	return false
}

func (s *FileService) recordUpload(backend, outcome string, bytes int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.Uploads.WithLabelValues(backend, outcome).Inc()
	if bytes > 0 {
		s.metrics.UploadedBytes.Add(float64(bytes))
	}
}

// ListInput contains listing parameters.
type ListInput struct {
	UserID string
	Page   int
	Limit  int
	Folder string
	Format string
}

// Pagination describes a page of results.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListMeta reports where a listing came from.
type ListMeta struct {
	Source             string `json:"source"`
	RemoteConnected    bool   `json:"remoteConnected"`
	TotalFilesInMemory int    `json:"totalFilesInMemory"`
}

// ListOutput is one page of a user's files.
type ListOutput struct {
	Files      []*domain.File `json:"files"`
	Pagination Pagination     `json:"pagination"`
	Meta       ListMeta       `json:"meta"`
}

// List returns one page of the user's files, newest first.
func (s *FileService) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	limit := input.Limit
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	files, source, err := s.store.ListFilesWithSource(ctx, input.UserID, domain.FileFilter{
		Folder: input.Folder,
		Format: input.Format,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", input.UserID).Msg("failed to list files")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	total := len(files)
	start := total
	if page-1 < (total+limit-1)/limit {
		start = (page - 1) * limit
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &ListOutput{
		Files: files[start:end],
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
		Meta: ListMeta{
			Source:             source,
			RemoteConnected:    s.store.RemoteUsable(),
			TotalFilesInMemory: s.store.LocalStats().Files,
		},
	}, nil
}

// StatsOutput summarizes a user's usage.
type StatsOutput struct {
	Files    int64 `json:"files"`
	Storage  int64 `json:"storage"`
	Requests int64 `json:"requests"`
}

// Stats returns file count and bytes from the store and the request counter
// of the authenticated user.
func (s *FileService) Stats(ctx context.Context, user *domain.User) (*StatsOutput, error) {
	totals, err := s.store.FileTotalsByUser(ctx, user.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to compute stats")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return &StatsOutput{
		Files:    totals.Files,
		Storage:  totals.Bytes,
		Requests: user.Usage.Requests,
	}, nil
}
