// Package memory provides the in-process local map tier.
// It is the read-through cache in front of the remote store and the only
// store once the remote one is disabled. Contents do not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/store"
)

// Store implements store.FallbackStore with maps guarded by a RWMutex.
// Values are copied on the way in and out so callers never share state
// with the map.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*domain.User
	apiKeys    map[string]string // api key -> user id
	emails     map[string]string // email -> user id
	files      map[string]*domain.File
	activities map[string]*domain.Activity
}

// New creates an empty local map.
func New() *Store {
	return &Store{
		users:      make(map[string]*domain.User),
		apiKeys:    make(map[string]string),
		emails:     make(map[string]string),
		files:      make(map[string]*domain.File),
		activities: make(map[string]*domain.Activity),
	}
}

// GetUserByID retrieves a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Clone(), nil
}

// GetUserByAPIKey retrieves a user by API key.
func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userByIndex(s.apiKeys, apiKey)
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userByIndex(s.emails, email)
}

func (s *Store) userByIndex(index map[string]string, key string) (*domain.User, error) {
	id, ok := index[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Clone(), nil
}

// PutUser inserts or overwrites a user. Last writer wins.
func (s *Store) PutUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.users[user.ID]; ok {
		if s.apiKeys[prev.APIKey] == prev.ID {
			delete(s.apiKeys, prev.APIKey)
		}
		if s.emails[prev.Email] == prev.ID {
			delete(s.emails, prev.Email)
		}
	}

	s.users[user.ID] = user.Clone()
	if user.APIKey != "" {
		s.apiKeys[user.APIKey] = user.ID
	}
	if user.Email != "" {
		s.emails[user.Email] = user.ID
	}
	return nil
}

// GetFile retrieves a file record by id.
func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.Clone(), nil
}

// PutFile inserts or overwrites a file record.
func (s *Store) PutFile(ctx context.Context, file *domain.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[file.ID] = file.Clone()
	return nil
}

// ListFilesByUser scans the file map, newest first.
func (s *Store) ListFilesByUser(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, error) {
	s.mu.RLock()
	result := make([]*domain.File, 0)
	for _, f := range s.files {
		if f.UserID == userID && filter.Matches(f) {
			result = append(result, f.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].UploadedAt.Equal(result[j].UploadedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	return result, nil
}

// FileTotalsByUser counts the user's files and sums their sizes.
func (s *Store) FileTotalsByUser(ctx context.Context, userID string) (*domain.FileTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := &domain.FileTotals{}
	for _, f := range s.files {
		if f.UserID == userID {
			totals.Files++
			totals.Bytes += f.Size
		}
	}
	return totals, nil
}

// AppendActivity stores an activity under its id.
func (s *Store) AppendActivity(ctx context.Context, activity *domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities[activity.ID] = activity.Clone()
	return nil
}

// IncrementUsage is a read followed by a separate write. Each step holds the
// lock, but the pair does not: concurrent increments for the same user may
// overwrite each other and lose updates. Returns store.ErrNotFound when the
// user is not cached.
func (s *Store) IncrementUsage(ctx context.Context, userID string, deltaBytes, deltaRequests int64) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	user.ApplyUsage(deltaBytes, deltaRequests)
	return s.PutUser(ctx, user)
}

// Activities returns a copy of every stored activity.
func (s *Store) Activities() []*domain.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		result = append(result, a.Clone())
	}
	return result
}

// Stats returns the map sizes.
func (s *Store) Stats() store.LocalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return store.LocalStats{
		Users:      len(s.users),
		Files:      len(s.files),
		APIKeys:    len(s.apiKeys),
		Activities: len(s.activities),
	}
}

// Ensure Store implements store.FallbackStore.
var _ store.FallbackStore = (*Store)(nil)
