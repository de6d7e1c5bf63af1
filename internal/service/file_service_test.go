package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/objectstore"
	"github.com/prn-tf/cloudidada/internal/store"
)

func newTestFileService(s Store, uploader objectstore.Uploader, sink *recordingSink, cfg FileConfig) *FileService {
	return NewFileService(s, uploader, sink, NewActivityRecorder(s, zerolog.Nop()), nil, cfg, zerolog.Nop())
}

func seedUser(t *testing.T, s Store, id string) *domain.User {
	t.Helper()
	u := domain.NewUser(id, "tester", id+"@example.com", "", "cld_"+id)
	require.NoError(t, s.PutUser(context.Background(), u))
	return u
}

func TestFileService_UploadRejectsBeforeStorage(t *testing.T) {
	ctx := context.Background()
	cfg := FileConfig{
		AllowedMimeTypes: []string{"image/*", "application/pdf"},
		MaxUploadBytes:   1024,
	}

	tests := []struct {
		name    string
		input   UploadInput
		wantErr error
	}{
		{
			name:    "no file",
			input:   UploadInput{Filename: "a.png", ContentType: "image/png"},
			wantErr: domain.ErrNoFile,
		},
		{
			name:    "disallowed type",
			input:   UploadInput{Filename: "run.exe", ContentType: "application/x-msdownload", Size: 10, Reader: bytes.NewReader([]byte("MZ"))},
			wantErr: domain.ErrFileTypeNotAllowed,
		},
		{
			name:    "too large",
			input:   UploadInput{Filename: "big.pdf", ContentType: "application/pdf", Size: 2048, Reader: bytes.NewReader(make([]byte, 2048))},
			wantErr: domain.ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, local := newLocalStore()
			user := seedUser(t, s, "u1")
			tt.input.User = user

			uploader := new(MockUploader)
			sink := &recordingSink{}
			svc := newTestFileService(s, uploader, sink, cfg)

			_, err := svc.Upload(ctx, tt.input)
			require.ErrorIs(t, err, tt.wantErr)

			uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
			require.Zero(t, local.Stats().Files)
			require.Empty(t, sink.events)
		})
	}
}

func TestFileService_Upload(t *testing.T) {
	ctx := context.Background()
	s, local := newLocalStore()
	user := seedUser(t, s, "u1")

	width, height := 4, 3
	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(o objectstore.Options) bool {
		return o.Folder == "cloudidada" && o.Filename == "cat.png" && o.ContentType == "image/png" && len(o.Tags) == 2
	})).Return(&objectstore.Result{
		PublicID: "cloudidada/abc",
		URL:      "https://cdn.example.com/cloudidada/abc.png",
		Format:   "png",
		Width:    &width,
		Height:   &height,
		Bytes:    5,
		Backend:  objectstore.BackendS3,
		Checksum: "deadbeef",
	}, nil)

	sink := &recordingSink{}
	svc := newTestFileService(s, uploader, sink, FileConfig{AllowedMimeTypes: []string{"image/*"}})

	file, err := svc.Upload(ctx, UploadInput{
		User:        user,
		Filename:    "cat.png",
		ContentType: "image/png",
		Size:        5,
		Reader:      bytes.NewReader([]byte("hello")),
		Tags:        []string{"cats", "pets"},
	})
	require.NoError(t, err)
	uploader.AssertExpectations(t)

	require.Equal(t, "u1", file.UserID)
	require.Equal(t, "cloudidada/abc", file.RemoteID)
	require.Equal(t, objectstore.BackendS3, file.Storage)
	require.Equal(t, "cloudidada", file.Folder)
	require.Equal(t, 4, *file.Width)
	require.Equal(t, []string{"cats", "pets"}, file.Tags)

	stored, err := s.GetFile(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, file.URL, stored.URL)

	updated, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(5), updated.Usage.Storage)
	require.Equal(t, int64(1), updated.Usage.Requests)

	require.Equal(t, []string{"fileUploaded"}, sink.events)

	var actions []domain.ActivityAction
	for _, a := range local.Activities() {
		actions = append(actions, a.Action)
	}
	require.Contains(t, actions, domain.ActionFileUploaded)

	stats, err := svc.Stats(ctx, updated)
	require.NoError(t, err)
	require.Equal(t, &StatsOutput{Files: 1, Storage: 5, Requests: 1}, stats)
}

func TestFileService_UploadFailure(t *testing.T) {
	ctx := context.Background()
	s, local := newLocalStore()
	user := seedUser(t, s, "u1")

	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("bucket gone"))

	sink := &recordingSink{}
	svc := newTestFileService(s, uploader, sink, FileConfig{})

	_, err := svc.Upload(ctx, UploadInput{
		User:        user,
		Filename:    "a.txt",
		ContentType: "text/plain",
		Reader:      bytes.NewReader([]byte("x")),
	})
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Zero(t, local.Stats().Files)
	require.Empty(t, sink.events)

	unchanged, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, unchanged.Usage.Requests)
}

func TestFileService_List(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore()
	base := time.Now().UTC()

	for i := range 25 {
		folder := "photos"
		mime := "image/png"
		if i%5 == 0 {
			folder = "docs"
			mime = "application/pdf"
		}
		require.NoError(t, s.PutFile(ctx, &domain.File{
			ID:         fmt.Sprintf("file_%02d", i),
			UserID:     "u1",
			Size:       10,
			MimeType:   mime,
			Folder:     folder,
			Storage:    "local",
			UploadedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.PutFile(ctx, &domain.File{ID: "file_other", UserID: "u2", MimeType: "image/png", Folder: "photos", UploadedAt: base}))

	svc := newTestFileService(s, new(MockUploader), &recordingSink{}, FileConfig{})

	tests := []struct {
		name      string
		input     ListInput
		wantCount int
		wantPage  Pagination
		wantFirst string
	}{
		{
			name:      "defaults",
			input:     ListInput{UserID: "u1"},
			wantCount: 20,
			wantPage:  Pagination{Page: 1, Limit: 20, Total: 25, Pages: 2},
			wantFirst: "file_24",
		},
		{
			name:      "second page",
			input:     ListInput{UserID: "u1", Page: 2, Limit: 20},
			wantCount: 5,
			wantPage:  Pagination{Page: 2, Limit: 20, Total: 25, Pages: 2},
			wantFirst: "file_04",
		},
		{
			name:      "limit capped",
			input:     ListInput{UserID: "u1", Limit: 500},
			wantCount: 25,
			wantPage:  Pagination{Page: 1, Limit: MaxPageLimit, Total: 25, Pages: 1},
			wantFirst: "file_24",
		},
		{
			name:     "past the end",
			input:    ListInput{UserID: "u1", Page: 9},
			wantPage: Pagination{Page: 9, Limit: 20, Total: 25, Pages: 2},
		},
		{
			name:     "page far past the end",
			input:    ListInput{UserID: "u1", Page: 1 << 62, Limit: 20},
			wantPage: Pagination{Page: 1 << 62, Limit: 20, Total: 25, Pages: 2},
		},
		{
			name:     "page whose offset overflows",
			input:    ListInput{UserID: "u1", Page: 922337203685477581, Limit: 16},
			wantPage: Pagination{Page: 922337203685477581, Limit: 16, Total: 25, Pages: 2},
		},
		{
			name:      "folder filter",
			input:     ListInput{UserID: "u1", Folder: "docs"},
			wantCount: 5,
			wantPage:  Pagination{Page: 1, Limit: 20, Total: 5, Pages: 1},
			wantFirst: "file_20",
		},
		{
			name:      "format filter",
			input:     ListInput{UserID: "u1", Format: "pdf"},
			wantCount: 5,
			wantPage:  Pagination{Page: 1, Limit: 20, Total: 5, Pages: 1},
			wantFirst: "file_20",
		},
		{
			name:     "no files",
			input:    ListInput{UserID: "nobody"},
			wantPage: Pagination{Page: 1, Limit: 20, Total: 0, Pages: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.List(ctx, tt.input)
			require.NoError(t, err)
			require.Len(t, out.Files, tt.wantCount)
			require.Equal(t, tt.wantPage, out.Pagination)
			if tt.wantFirst != "" {
				require.Equal(t, tt.wantFirst, out.Files[0].ID)
			}
			require.Equal(t, store.SourceMemory, out.Meta.Source)
			require.False(t, out.Meta.RemoteConnected)
			require.Equal(t, 26, out.Meta.TotalFilesInMemory)
		})
	}
}

func TestFileService_MimeAllowed(t *testing.T) {
	svc := &FileService{cfg: FileConfig{AllowedMimeTypes: []string{"image/*", "application/pdf", "text/plain"}}}

	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"IMAGE/JPEG", true},
		{"application/pdf", true},
		{"text/plain", true},
		{"text/plain; charset=utf-8", true},
		{"text/html", false},
		{"imagex/png", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			require.Equal(t, tt.want, svc.mimeAllowed(tt.contentType))
		})
	}

	open := &FileService{}
	require.True(t, open.mimeAllowed("application/x-anything"))
}
