package handler

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/auth"
	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/service"
)

// multipartOverhead is the allowance for boundaries and form fields on top
// of the file size limit.
const multipartOverhead = 64 << 10

// maxFieldBytes caps the size of a non-file form field.
const maxFieldBytes = 8 << 10

// FileConfig controls how upload bodies are received.
type FileConfig struct {
	// MaxUploadBytes is the largest accepted file.
	MaxUploadBytes int64

	// Serverless buffers files in memory. Otherwise they are spooled to TempDir
	// and removed after the request.
	Serverless bool
	TempDir    string
}

// FileHandler serves uploads, listings and stats.
type FileHandler struct {
	files      *service.FileService
	cfg        FileConfig
	production bool
	logger     zerolog.Logger
}

// NewFileHandler creates a FileHandler.
func NewFileHandler(files *service.FileService, cfg FileConfig, production bool, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		files:      files,
		cfg:        cfg,
		production: production,
		logger:     logger.With().Str("handler", "file").Logger(),
	}
}

type uploadResponse struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	RemoteID     string    `json:"remoteId"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	Format       string    `json:"format"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Folder       string    `json:"folder"`
	Tags         []string  `json:"tags"`
	Storage      string    `json:"storage"`
}

// Upload handles POST /api/files/upload.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAPIError(w, ErrInternal)
		return
	}

	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+multipartOverhead)
	}

	form, err := h.readForm(r)
	if form != nil {
		defer form.cleanup(h.logger)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeAPIError(w, ErrFileTooLarge)
		case errors.Is(err, domain.ErrFileTooLarge):
			writeAPIError(w, ErrFileTooLarge)
		default:
			writeAPIError(w, APIError{
				Status:  http.StatusBadRequest,
				Error:   "Invalid upload",
				Message: "Could not parse multipart form",
			})
		}
		return
	}
	if !form.hasFile {
		writeServiceError(w, r, h.logger, domain.ErrNoFile, h.production)
		return
	}

	file, err := h.files.Upload(r.Context(), service.UploadInput{
		User:        user,
		Filename:    form.filename,
		ContentType: form.contentType,
		Size:        form.size,
		Reader:      form.reader(),
		Path:        form.path,
		Folder:      form.folder,
		Tags:        form.tags,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, h.production)
		return
	}

	writeData(w, http.StatusCreated, "File uploaded successfully", uploadResponse{
		ID:           file.ID,
		URL:          file.URL,
		RemoteID:     file.RemoteID,
		OriginalName: file.OriginalName,
		Size:         file.Size,
		Format:       file.Format,
		Width:        file.Width,
		Height:       file.Height,
		UploadedAt:   file.UploadedAt,
		Folder:       file.Folder,
		Tags:         file.Tags,
		Storage:      file.Storage,
	})
}

// uploadForm is a parsed multipart upload. The file is held either in buf
// or in the temp file at path.
type uploadForm struct {
	hasFile     bool
	filename    string
	contentType string
	size        int64
	buf         []byte
	path        string
	folder      string
	tags        []string
}

func (f *uploadForm) reader() io.Reader {
	if f.path != "" {
		return nil
	}
	return bytes.NewReader(f.buf)
}

func (f *uploadForm) cleanup(logger zerolog.Logger) {
	if f.path == "" {
		return
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", f.path).Msg("failed to remove temp upload")
	}
}

// readForm streams the multipart body. The part named "file" is kept;
// "folder" and "tags" are read as text; other parts are discarded.
func (h *FileHandler) readForm(r *http.Request) (*uploadForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return form, err
		}

		switch part.FormName() {
		case "file":
			if part.FileName() == "" || form.hasFile {
				_, err = io.Copy(io.Discard, part)
				break
			}
			err = h.readFilePart(part, form)
		case "folder":
			form.folder, err = readField(part)
		case "tags":
			var raw string
			raw, err = readField(part)
			form.tags = domain.ParseTags(raw)
		default:
			_, err = io.Copy(io.Discard, part)
		}
		_ = part.Close()
		if err != nil {
			return form, err
		}
	}
	return form, nil
}

func (h *FileHandler) readFilePart(part *multipart.Part, form *uploadForm) error {
	form.hasFile = true
	form.filename = part.FileName()
	form.contentType = strings.TrimSpace(part.Header.Get("Content-Type"))

	src := io.Reader(part)
	if h.cfg.MaxUploadBytes > 0 {
		src = io.LimitReader(part, h.cfg.MaxUploadBytes+1)
	}

	if h.cfg.Serverless {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, src)
		if err != nil {
			return err
		}
		form.buf = buf.Bytes()
		form.size = n
	} else {
		tmp, err := os.CreateTemp(h.cfg.TempDir, "upload-*")
		if err != nil {
			return err
		}
		form.path = tmp.Name()
		n, err := io.Copy(tmp, src)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
		form.size = n
	}

	if h.cfg.MaxUploadBytes > 0 && form.size > h.cfg.MaxUploadBytes {
		return domain.ErrFileTooLarge
	}

	if form.contentType == "" || form.contentType == "application/octet-stream" {
		form.contentType = h.sniff(form)
	}
	return nil
}

// sniff detects the content type from the file bytes.
func (h *FileHandler) sniff(form *uploadForm) string {
	if form.path == "" {
		return mimetype.Detect(form.buf).String()
	}
	m, err := mimetype.DetectFile(form.path)
	if err != nil {
		h.logger.Debug().Err(err).Msg("content type detection failed")
		return "application/octet-stream"
	}
	return m.String()
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// List handles GET /api/files/list.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAPIError(w, ErrInternal)
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	out, err := h.files.List(r.Context(), service.ListInput{
		UserID: user.ID,
		Page:   page,
		Limit:  limit,
		Folder: q.Get("folder"),
		Format: q.Get("format"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, h.production)
		return
	}

	writeData(w, http.StatusOK, "", out)
}

// Stats handles GET /api/stats.
func (h *FileHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAPIError(w, ErrInternal)
		return
	}

	stats, err := h.files.Stats(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, err, h.production)
		return
	}

	writeData(w, http.StatusOK, "", stats)
}
