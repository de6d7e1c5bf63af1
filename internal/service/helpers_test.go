package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/cloudidada/internal/auth"
	"github.com/prn-tf/cloudidada/internal/lock"
	"github.com/prn-tf/cloudidada/internal/objectstore"
	"github.com/prn-tf/cloudidada/internal/store"
	"github.com/prn-tf/cloudidada/internal/store/memory"
)

// fakeRemote is a remote store backed by its own local map.
type fakeRemote struct {
	*memory.Store
	provisionErr error
	provisioned  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{Store: memory.New()}
}

func (f *fakeRemote) Name() string { return "fake" }
func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) Provision(ctx context.Context) error {
	f.provisioned++
	return f.provisionErr
}

// MockUploader is a mock implementation of objectstore.Uploader.
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Name() string { return "mock" }

func (m *MockUploader) Upload(ctx context.Context, in objectstore.Input, opts objectstore.Options) (*objectstore.Result, error) {
	args := m.Called(ctx, in, opts)
	if in.Reader != nil {
		_, _ = io.Copy(io.Discard, in.Reader)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*objectstore.Result), args.Error(1)
}

// recordingSink collects emitted events.
type recordingSink struct {
	events []string
}

func (r *recordingSink) Emit(event string, payload any) {
	r.events = append(r.events, event)
}

func newLocalStore() (*store.FallbackingStore, *memory.Store) {
	local := memory.New()
	return store.NewFallbackingStore(nil, local, store.Options{Logger: zerolog.Nop()}), local
}

func newTestUserService(t *testing.T, s Store, cfg UserConfig) *UserService {
	t.Helper()

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour, "cloudidada")
	require.NoError(t, err)

	return NewUserService(s, tokens, NewActivityRecorder(s, zerolog.Nop()), lock.NewMemoryLocker(), cfg, zerolog.Nop())
}

func defaultUserConfig() UserConfig {
	return UserConfig{
		APIKeyPrefix:    "cld_",
		APIKeyMinLength: 10,
		AutoProvision:   true,
		AutoEmailDomain: "cloudidada.com",
	}
}
