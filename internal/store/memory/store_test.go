package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/store"
)

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s := New()

	user := domain.NewUser("user_1", "Alice", "alice@example.com", "hash", "cld_alice_key")
	require.NoError(t, s.PutUser(ctx, user))

	got, err := s.GetUserByAPIKey(ctx, "cld_alice_key")
	require.NoError(t, err)
	require.Equal(t, "user_1", got.ID)

	// Returned values are copies.
	got.UserName = "mutated"
	again, err := s.GetUserByID(ctx, "user_1")
	require.NoError(t, err)
	require.Equal(t, "Alice", again.UserName)

	// Re-keying drops the stale index entries.
	user.APIKey = "cld_alice_new"
	user.Email = "alice@new.example.com"
	require.NoError(t, s.PutUser(ctx, user))

	_, err = s.GetUserByAPIKey(ctx, "cld_alice_key")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err = s.GetUserByEmail(ctx, "alice@new.example.com")
	require.NoError(t, err)
	require.Equal(t, "cld_alice_new", got.APIKey)

	stats := s.Stats()
	require.Equal(t, 1, stats.Users)
	require.Equal(t, 1, stats.APIKeys)
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetUserByID(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByAPIKey(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetFile(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.IncrementUsage(ctx, "nope", 1, 1), store.ErrNotFound)
}

func TestStore_ListFilesByUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	files := []*domain.File{
		{ID: "file_1", UserID: "u1", MimeType: "image/png", Folder: "avatars", Size: 10, UploadedAt: base},
		{ID: "file_2", UserID: "u1", MimeType: "image/jpeg", Folder: "cloudidada", Size: 20, UploadedAt: base.Add(time.Hour)},
		{ID: "file_3", UserID: "u1", MimeType: "application/pdf", Folder: "cloudidada", Size: 30, UploadedAt: base.Add(2 * time.Hour)},
		{ID: "file_4", UserID: "u2", MimeType: "image/png", Folder: "cloudidada", Size: 40, UploadedAt: base},
	}
	for _, f := range files {
		require.NoError(t, s.PutFile(ctx, f))
	}

	tests := []struct {
		name   string
		filter domain.FileFilter
		want   []string
	}{
		{name: "all, newest first", filter: domain.FileFilter{}, want: []string{"file_3", "file_2", "file_1"}},
		{name: "folder all", filter: domain.FileFilter{Folder: "all"}, want: []string{"file_3", "file_2", "file_1"}},
		{name: "folder", filter: domain.FileFilter{Folder: "cloudidada"}, want: []string{"file_3", "file_2"}},
		{name: "format substring", filter: domain.FileFilter{Format: "image"}, want: []string{"file_2", "file_1"}},
		{name: "folder and format", filter: domain.FileFilter{Folder: "cloudidada", Format: "pdf"}, want: []string{"file_3"}},
		{name: "no match", filter: domain.FileFilter{Format: "video"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListFilesByUser(ctx, "u1", tt.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, f := range got {
				ids = append(ids, f.ID)
			}
			require.Equal(t, tt.want, ids)
		})
	}

	totals, err := s.FileTotalsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(3), totals.Files)
	require.Equal(t, int64(60), totals.Bytes)
}

func TestStore_Activities(t *testing.T) {
	ctx := context.Background()
	s := New()

	data := map[string]any{"fileId": "file_1"}
	require.NoError(t, s.AppendActivity(ctx, domain.NewActivity("activity_1", domain.ActionFileUploaded, data)))
	data["fileId"] = "changed"

	activities := s.Activities()
	require.Len(t, activities, 1)
	require.Equal(t, "file_1", activities[0].Data["fileId"])
	require.Equal(t, 1, s.Stats().Activities)
}

// Concurrent increments are not atomic across the read and the write, so
// some may be lost. At least one must be reflected and never more than issued.
func TestStore_ConcurrentIncrementUsage(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutUser(ctx, domain.NewUser("user_1", "A", "a@example.com", "h", "cld_aaaaaaaa")))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementUsage(ctx, "user_1", 100, 1))
		}()
	}
	wg.Wait()

	got, err := s.GetUserByID(ctx, "user_1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, got.Usage.Requests, int64(1))
	require.LessOrEqual(t, got.Usage.Requests, int64(n))
	require.Equal(t, got.Usage.Requests*100, got.Usage.Storage, fmt.Sprintf("usage %+v", got.Usage))
}
