package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/lock"
	"github.com/prn-tf/cloudidada/internal/store"
)

// provisionLockTTL bounds how long a provisioning run may hold the lock.
const provisionLockTTL = 2 * time.Minute

// Troubleshooting is returned when the remote store cannot be provisioned.
type Troubleshooting struct {
	Provider       string   `json:"provider"`
	BreakerState   string   `json:"breakerState"`
	BreakerReason  string   `json:"breakerReason,omitempty"`
	ErrorCode      string   `json:"errorCode,omitempty"`
	ProviderCode   string   `json:"providerCode,omitempty"`
	PossibleCauses []string `json:"possibleCauses,omitempty"`
	Steps          []string `json:"steps,omitempty"`
}

// ProvisionResult is the outcome of InitDB.
type ProvisionResult struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message"`
	Error           string           `json:"error,omitempty"`
	Troubleshooting *Troubleshooting `json:"troubleshooting,omitempty"`
}

// ProvisionService creates the remote store collections, tables and indexes.
type ProvisionService struct {
	store       Store
	provisioner store.Provisioner
	locker      lock.Locker
	logger      zerolog.Logger
}

// NewProvisionService creates a ProvisionService. provisioner is nil when
// the remote store cannot provision itself or none is configured.
func NewProvisionService(s Store, provisioner store.Provisioner, locker lock.Locker, logger zerolog.Logger) *ProvisionService {
	return &ProvisionService{
		store:       s,
		provisioner: provisioner,
		locker:      locker,
		logger:      logger.With().Str("service", "provision").Logger(),
	}
}

// InitDB provisions the remote store. The returned result is always set;
// a non-nil error means provisioning was attempted and failed.
func (s *ProvisionService) InitDB(ctx context.Context) (*ProvisionResult, error) {
	if s.provisioner == nil || !s.store.RemoteUsable() {
		return &ProvisionResult{
			Success:         false,
			Message:         "Remote store not connected, using memory storage",
			Troubleshooting: s.troubleshooting(nil),
		}, nil
	}

	key := lock.Keys.Provision()
	acquired, err := s.locker.Acquire(ctx, key, provisionLockTTL)
	if err != nil {
		return &ProvisionResult{
			Success: false,
			Message: "Database initialization failed",
			Error:   err.Error(),
		}, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}
	if !acquired {
		return &ProvisionResult{
			Success: false,
			Message: "Database initialization already in progress",
		}, nil
	}
	defer func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release provision lock")
		}
	}()

	s.logger.Info().Str("provider", s.store.RemoteName()).Msg("provisioning remote store")

	if err := s.provisioner.Provision(ctx); err != nil {
		s.logger.Error().Err(err).Str("provider", s.store.RemoteName()).Msg("remote store provisioning failed")
		return &ProvisionResult{
			Success:         false,
			Message:         "Database initialization failed",
			Error:           err.Error(),
			Troubleshooting: s.troubleshooting(err),
		}, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}

	s.logger.Info().Str("provider", s.store.RemoteName()).Msg("remote store provisioned")
	return &ProvisionResult{
		Success: true,
		Message: "Database collections initialized successfully",
	}, nil
}

func (s *ProvisionService) troubleshooting(err error) *Troubleshooting {
	b := s.store.Breaker()
	t := &Troubleshooting{
		Provider:      s.store.RemoteName(),
		BreakerState:  b.State().String(),
		BreakerReason: b.Reason(),
	}

	if err == nil {
		t.Steps = []string{
			"Set database.driver to mongodb, postgres or sqlite",
			"Check the connection settings of the selected driver",
			"Run cloudidada-admin provision to create collections and indexes",
			"Restart the server; a disabled remote store is not re-enabled at runtime",
		}
		return t
	}

	code := store.CodeOf(err)
	t.ErrorCode = string(code)
	var pe *store.ProviderError
	if errors.As(err, &pe) {
		t.ProviderCode = pe.ProviderCode
	}

	switch code {
	case store.CodePermissionDenied:
		t.PossibleCauses = []string{
			"Database user lacks privileges to create collections or indexes",
			"Credentials in the connection string are wrong",
		}
	case store.CodeUnavailable:
		t.PossibleCauses = []string{
			"Database server is unreachable",
			"Connection timed out",
		}
	default:
		t.PossibleCauses = []string{"Unknown error, check the database server logs"}
	}
	return t
}
