package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/pkg/crypto"
	"github.com/prn-tf/cloudidada/internal/store"
)

// Store is the persistence surface used by the services. It is implemented
// by *store.FallbackingStore.
type Store interface {
	store.EntityStore

	ListFilesWithSource(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, string, error)
	RemoteUsable() bool
	RemoteName() string
	LocalStats() store.LocalStats
	Breaker() *store.Breaker
}

var _ Store = (*store.FallbackingStore)(nil)

// ActivityRecorder appends activity log entries. Recording never fails the caller.
type ActivityRecorder struct {
	store  store.EntityStore
	logger zerolog.Logger
}

// NewActivityRecorder creates an ActivityRecorder.
func NewActivityRecorder(s store.EntityStore, logger zerolog.Logger) *ActivityRecorder {
	return &ActivityRecorder{
		store:  s,
		logger: logger.With().Str("service", "activity").Logger(),
	}
}

// Record appends an activity with a fresh id.
func (r *ActivityRecorder) Record(ctx context.Context, action domain.ActivityAction, data map[string]any) {
	a := domain.NewActivity(crypto.NewID(crypto.ActivityIDPrefix), action, data)
	if err := r.store.AppendActivity(ctx, a); err != nil {
		r.logger.Warn().Err(err).Str("action", string(action)).Msg("failed to record activity")
		return
	}
	r.logger.Debug().Str("action", string(action)).Str("activity_id", a.ID).Msg("activity recorded")
}
