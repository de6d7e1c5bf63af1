package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/metrics"
)

// Options configures a FallbackingStore.
type Options struct {
	// Breaker is the state object owned by the store. A new one is created when nil.
	Breaker *Breaker

	// TripRule classifies remote errors. DefaultTripRule is used when nil.
	TripRule TripRule

	// Metrics is optional.
	Metrics *metrics.Metrics

	Logger zerolog.Logger
}

// FallbackingStore composes a remote PrimaryStore with a local FallbackStore.
//
// Reads consult the local map first and fill it from remote on a miss.
// Writes always land in the local map and are mirrored to remote while the
// breaker is usable. Remote failures are logged and evaluated against the
// trip rule; they never reach the caller.
type FallbackingStore struct {
	primary PrimaryStore
	local   FallbackStore
	breaker *Breaker
	rule    TripRule
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewFallbackingStore creates a FallbackingStore. A nil primary leaves the
// breaker tripped from the start.
func NewFallbackingStore(primary PrimaryStore, local FallbackStore, opts Options) *FallbackingStore {
	s := &FallbackingStore{
		primary: primary,
		local:   local,
		breaker: opts.Breaker,
		rule:    opts.TripRule,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "store").Logger(),
	}
	if s.breaker == nil {
		s.breaker = NewBreaker()
	}
	if s.rule == nil {
		s.rule = DefaultTripRule
	}
	if primary == nil {
		s.trip("remote store not configured")
	}
	return s
}

// Probe pings the remote store once. An unreachable store is disabled for
// the process lifetime, as no recovery probe exists.
func (s *FallbackingStore) Probe(ctx context.Context) error {
	if !s.remoteUsable() {
		return nil
	}
	if err := s.primary.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Str("provider", s.primary.Name()).Msg("remote store probe failed")
		s.trip("remote store unreachable at startup: " + err.Error())
		return err
	}
	s.logger.Info().Str("provider", s.primary.Name()).Msg("remote store reachable")
	return nil
}

// Breaker returns the breaker owned by this store.
func (s *FallbackingStore) Breaker() *Breaker {
	return s.breaker
}

// Primary returns the remote tier, or nil.
func (s *FallbackingStore) Primary() PrimaryStore {
	return s.primary
}

// RemoteName returns the remote provider name, or "none".
func (s *FallbackingStore) RemoteName() string {
	if s.primary == nil {
		return "none"
	}
	return s.primary.Name()
}

// RemoteUsable reports whether the remote tier is still consulted.
func (s *FallbackingStore) RemoteUsable() bool {
	return s.remoteUsable()
}

// LocalStats returns the local map counters.
func (s *FallbackingStore) LocalStats() LocalStats {
	return s.local.Stats()
}

// =============================================================================
// Users
// =============================================================================

// GetUserByID looks the user up locally, then remotely.
func (s *FallbackingStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return readThrough(ctx, s, "get_user_by_id",
		func(ctx context.Context) (*domain.User, error) { return s.local.GetUserByID(ctx, id) },
		func(ctx context.Context) (*domain.User, error) { return s.primary.GetUserByID(ctx, id) },
		s.local.PutUser,
	)
}

// GetUserByAPIKey looks the user up locally, then remotely.
func (s *FallbackingStore) GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	return readThrough(ctx, s, "get_user_by_api_key",
		func(ctx context.Context) (*domain.User, error) { return s.local.GetUserByAPIKey(ctx, apiKey) },
		func(ctx context.Context) (*domain.User, error) { return s.primary.GetUserByAPIKey(ctx, apiKey) },
		s.local.PutUser,
	)
}

// GetUserByEmail looks the user up locally, then remotely.
func (s *FallbackingStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return readThrough(ctx, s, "get_user_by_email",
		func(ctx context.Context) (*domain.User, error) { return s.local.GetUserByEmail(ctx, email) },
		func(ctx context.Context) (*domain.User, error) { return s.primary.GetUserByEmail(ctx, email) },
		s.local.PutUser,
	)
}

// PutUser writes locally, then mirrors to remote while usable.
func (s *FallbackingStore) PutUser(ctx context.Context, user *domain.User) error {
	return s.writeThrough(ctx, "put_user",
		func(ctx context.Context) error { return s.local.PutUser(ctx, user) },
		func(ctx context.Context) error { return s.primary.PutUser(ctx, user) },
	)
}

// =============================================================================
// Files
// =============================================================================

// GetFile looks the file record up locally, then remotely.
func (s *FallbackingStore) GetFile(ctx context.Context, id string) (*domain.File, error) {
	return readThrough(ctx, s, "get_file",
		func(ctx context.Context) (*domain.File, error) { return s.local.GetFile(ctx, id) },
		func(ctx context.Context) (*domain.File, error) { return s.primary.GetFile(ctx, id) },
		s.local.PutFile,
	)
}

// PutFile writes locally, then mirrors to remote while usable.
func (s *FallbackingStore) PutFile(ctx context.Context, file *domain.File) error {
	return s.writeThrough(ctx, "put_file",
		func(ctx context.Context) error { return s.local.PutFile(ctx, file) },
		func(ctx context.Context) error { return s.primary.PutFile(ctx, file) },
	)
}

// Listing sources reported by ListFilesWithSource.
const (
	SourceMemory = "memory"
	SourceRemote = "remote"
)

// ListFilesByUser serves the local listing when it is non-empty. Otherwise
// the remote listing is fetched and cached.
func (s *FallbackingStore) ListFilesByUser(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, error) {
	files, _, err := s.ListFilesWithSource(ctx, userID, filter)
	return files, err
}

// ListFilesWithSource is ListFilesByUser that also reports which tier served
// the listing.
func (s *FallbackingStore) ListFilesWithSource(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, string, error) {
	const op = "list_files"

	files, err := s.local.ListFilesByUser(ctx, userID, filter)
	if err != nil {
		return nil, SourceMemory, err
	}
	if len(files) > 0 {
		return files, SourceMemory, nil
	}
	if !s.remoteUsable() {
		s.localOnly(op)
		return files, SourceMemory, nil
	}

	remote, err := s.primary.ListFilesByUser(ctx, userID, filter)
	if err != nil {
		s.remoteFailed(op, err)
		return files, SourceMemory, nil
	}
	s.observe(op, metrics.OutcomeOK)

	for _, f := range remote {
		if err := s.local.PutFile(ctx, f); err != nil {
			s.logger.Debug().Err(err).Str("file_id", f.ID).Msg("failed to cache file record")
		}
	}
	return remote, SourceRemote, nil
}

// FileTotalsByUser prefers the remote aggregate and falls back to a local scan.
func (s *FallbackingStore) FileTotalsByUser(ctx context.Context, userID string) (*domain.FileTotals, error) {
	const op = "file_totals"

	if s.remoteUsable() {
		totals, err := s.primary.FileTotalsByUser(ctx, userID)
		if err == nil {
			s.observe(op, metrics.OutcomeOK)
			return totals, nil
		}
		s.remoteFailed(op, err)
	} else {
		s.localOnly(op)
	}
	return s.local.FileTotalsByUser(ctx, userID)
}

// =============================================================================
// Activities and usage
// =============================================================================

// AppendActivity writes locally, then mirrors to remote while usable.
func (s *FallbackingStore) AppendActivity(ctx context.Context, activity *domain.Activity) error {
	return s.writeThrough(ctx, "append_activity",
		func(ctx context.Context) error { return s.local.AppendActivity(ctx, activity) },
		func(ctx context.Context) error { return s.primary.AppendActivity(ctx, activity) },
	)
}

// IncrementUsage applies the remote atomic increment while usable and then
// the local read-modify-write on the cached copy, if one exists. The two
// are independent: after a trip, or under concurrent increments, the local
// counters can drift from the remote ones and are never reconciled.
func (s *FallbackingStore) IncrementUsage(ctx context.Context, userID string, deltaBytes, deltaRequests int64) error {
	const op = "increment_usage"

	if s.remoteUsable() {
		err := s.primary.IncrementUsage(ctx, userID, deltaBytes, deltaRequests)
		switch {
		case err == nil:
			s.observe(op, metrics.OutcomeOK)
		case errors.Is(err, ErrNotFound):
			s.observe(op, metrics.OutcomeNotFound)
			s.logger.Debug().Str("user_id", userID).Msg("user not present in remote store, usage kept locally")
		default:
			s.remoteFailed(op, err)
		}
	} else {
		s.localOnly(op)
	}

	if err := s.local.IncrementUsage(ctx, userID, deltaBytes, deltaRequests); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// =============================================================================
// Policy helpers
// =============================================================================

// readThrough implements the get policy shared by every entity kind.
func readThrough[T any](
	ctx context.Context,
	s *FallbackingStore,
	op string,
	fromLocal func(context.Context) (T, error),
	fromRemote func(context.Context) (T, error),
	fill func(context.Context, T) error,
) (T, error) {
	var zero T

	v, err := fromLocal(ctx)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return zero, err
	}

	if !s.remoteUsable() {
		s.localOnly(op)
		return zero, ErrNotFound
	}

	v, err = fromRemote(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.observe(op, metrics.OutcomeNotFound)
		} else {
			s.remoteFailed(op, err)
		}
		return zero, ErrNotFound
	}
	s.observe(op, metrics.OutcomeOK)

	if err := fill(ctx, v); err != nil {
		s.logger.Debug().Err(err).Str("op", op).Msg("cache fill failed")
	}
	return v, nil
}

// writeThrough implements the put policy. Only local errors, which are
// caller validation errors, are returned.
func (s *FallbackingStore) writeThrough(ctx context.Context, op string, toLocal, toRemote func(context.Context) error) error {
	if err := toLocal(ctx); err != nil {
		return err
	}

	if !s.remoteUsable() {
		s.localOnly(op)
		return nil
	}

	if err := toRemote(ctx); err != nil {
		s.remoteFailed(op, err)
		return nil
	}
	s.observe(op, metrics.OutcomeOK)
	return nil
}

func (s *FallbackingStore) remoteUsable() bool {
	return s.primary != nil && s.breaker.Usable()
}

// remoteFailed logs a remote error and applies the trip rule.
func (s *FallbackingStore) remoteFailed(op string, err error) {
	s.observe(op, metrics.OutcomeError)

	s.logger.Warn().
		Err(err).
		Str("op", op).
		Str("provider", s.RemoteName()).
		Str("code", string(CodeOf(err))).
		Msg("remote store operation failed, continuing with local map")

	if s.rule(err) == DecisionTrip {
		s.trip(err.Error())
	}
}

func (s *FallbackingStore) trip(reason string) {
	if !s.breaker.Trip(reason) {
		return
	}

	s.logger.Warn().
		Str("provider", s.RemoteName()).
		Str("reason", reason).
		Msg("remote store disabled for the rest of the process lifetime")

	if s.metrics != nil {
		s.metrics.BreakerTrips.Inc()
		s.metrics.BreakerUsable.Set(0)
	}
}

func (s *FallbackingStore) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.RemoteOperations.WithLabelValues(op, outcome).Inc()
	}
}

func (s *FallbackingStore) localOnly(op string) {
	if s.metrics != nil {
		s.metrics.LocalOnly.WithLabelValues(op).Inc()
	}
}

// Ensure FallbackingStore implements EntityStore.
var _ EntityStore = (*FallbackingStore)(nil)
