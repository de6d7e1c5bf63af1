package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/cloudidada/internal/auth"
	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/lock"
	"github.com/prn-tf/cloudidada/internal/pkg/crypto"
	"github.com/prn-tf/cloudidada/internal/store"
)

// UserConfig controls API key issuance and auto-provisioning.
type UserConfig struct {
	// APIKeyPrefix is prepended to generated keys and required of auto-provisioned ones.
	APIKeyPrefix string

	// APIKeyMinLength is the minimum length of a key eligible for auto-provisioning.
	APIKeyMinLength int

	// AutoProvision creates a user for any unknown key that looks well formed.
	AutoProvision bool

	// AutoEmailDomain is the domain of synthesized auto-provisioned emails.
	AutoEmailDomain string
}

// SeedUser is a user created at startup with a fixed API key.
type SeedUser struct {
	ID       string
	UserName string
	Email    string
	APIKey   string
}

// SeedInput lists what Seed creates.
type SeedInput struct {
	// DemoUser creates "default_user" with a random cld_demo_ key.
	DemoUser bool
	Users    []SeedUser
}

// UserService handles registration, login and API key resolution.
type UserService struct {
	store      Store
	tokens     *auth.TokenIssuer
	activities *ActivityRecorder
	locker     lock.Locker
	cfg        UserConfig
	logger     zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(
	s Store,
	tokens *auth.TokenIssuer,
	activities *ActivityRecorder,
	locker lock.Locker,
	cfg UserConfig,
	logger zerolog.Logger,
) *UserService {
	if cfg.APIKeyPrefix == "" {
		cfg.APIKeyPrefix = crypto.APIKeyPrefix
	}
	return &UserService{
		store:      s,
		tokens:     tokens,
		activities: activities,
		locker:     locker,
		cfg:        cfg,
		logger:     logger.With().Str("service", "user").Logger(),
	}
}

// RegisterInput contains the data needed to register a user.
type RegisterInput struct {
	Email    string
	Password string
	UserName string
}

// Register creates a new user account with a fresh API key.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	input.Email = strings.TrimSpace(input.Email)
	input.UserName = strings.TrimSpace(input.UserName)

	if input.Email == "" || input.Password == "" || input.UserName == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return nil, ErrInvalidEmail
	}

	_, err := s.store.GetUserByEmail(ctx, input.Email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: email '%s'", domain.ErrUserAlreadyExists, input.Email)
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Error().Err(err).Str("email", input.Email).Msg("failed to check email existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	apiKey, err := crypto.GenerateAPIKey(s.cfg.APIKeyPrefix, crypto.APIKeyRandomLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	user := domain.NewUser(crypto.NewID(crypto.UserIDPrefix), input.UserName, input.Email, string(passwordHash), apiKey)
	if err := s.store.PutUser(ctx, user); err != nil {
		s.logger.Error().Err(err).Str("email", input.Email).Msg("failed to store user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.activities.Record(ctx, domain.ActionUserRegistered, map[string]any{
		"userName": user.UserName,
		"email":    user.Email,
		"apiKey":   user.APIKey,
	})

	s.logger.Info().
		Str("user_id", user.ID).
		Str("user_name", user.UserName).
		Msg("user registered")

	return user, nil
}

// LoginOutput contains the authenticated user and a signed token.
type LoginOutput struct {
	User  *domain.User
	Token string
}

// Login verifies credentials and issues a token. Unknown emails and wrong
// passwords fail identically.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginOutput, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error().Err(err).Msg("failed to look up user during login")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		s.logger.Debug().Msg("user not found during login")
		return nil, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("user_id", user.ID).Msg("invalid password during login")
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to issue token")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.activities.Record(ctx, domain.ActionUserLogin, map[string]any{
		"userName": user.UserName,
		"email":    user.Email,
		"apiKey":   user.APIKey,
	})

	s.logger.Info().Str("user_id", user.ID).Msg("user logged in")
	return &LoginOutput{User: user, Token: token}, nil
}

// ResolveAPIKey returns the user owning apiKey. When auto-provisioning is
// enabled, an unknown key with the configured prefix and minimum length
// creates a new free-tier user on the spot. Anyone who can guess the key
// format can therefore obtain an account.
func (s *UserService) ResolveAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	user, err := s.store.GetUserByAPIKey(ctx, apiKey)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if !s.cfg.AutoProvision || !crypto.LooksLikeAPIKey(apiKey, s.cfg.APIKeyPrefix, s.cfg.APIKeyMinLength) {
		return nil, domain.ErrInvalidAPIKey
	}

	email := fmt.Sprintf("user_%s@%s", strings.TrimPrefix(apiKey, s.cfg.APIKeyPrefix), s.cfg.AutoEmailDomain)
	user = domain.NewUser(crypto.NewID(crypto.AutoUserIDPrefix), "Auto User", email, "", apiKey)
	user.AutoGenerated = true

	if err := s.store.PutUser(ctx, user); err != nil {
		s.logger.Error().Err(err).Msg("failed to store auto-provisioned user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Warn().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Msg("auto-provisioned user for unknown API key")

	s.activities.Record(ctx, domain.ActionUserAutoProvisioned, map[string]any{
		"userId": user.ID,
		"email":  user.Email,
		"apiKey": user.APIKey,
	})
	return user, nil
}

// Seed creates the demo user and the configured seed users. It returns the
// demo API key, or "" when no demo user was created.
func (s *UserService) Seed(ctx context.Context, input SeedInput) (string, error) {
	key := lock.Keys.Seed()
	acquired, err := s.locker.AcquireWithRetry(ctx, key, 30*time.Second, 10, 200*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("failed to acquire seed lock: %w", err)
	}
	if !acquired {
		s.logger.Info().Msg("seeding skipped, another instance holds the seed lock")
		return "", nil
	}
	defer func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release seed lock")
		}
	}()

	var demoKey string
	if input.DemoUser {
		demoKey, err = crypto.GenerateAPIKey(crypto.DemoAPIKeyPrefix, crypto.DemoAPIKeyRandomLength)
		if err != nil {
			return "", err
		}
		demo := domain.NewUser("default_user", "Demo User", "demo@"+s.cfg.AutoEmailDomain, "", demoKey)
		if err := s.store.PutUser(ctx, demo); err != nil {
			return "", fmt.Errorf("failed to seed demo user: %w", err)
		}
		s.logger.Info().Str("api_key", demoKey).Msg("demo user seeded")
	}

	for _, su := range input.Users {
		u := domain.NewUser(su.ID, su.UserName, su.Email, "", su.APIKey)
		if err := s.store.PutUser(ctx, u); err != nil {
			return demoKey, fmt.Errorf("failed to seed user %s: %w", su.ID, err)
		}
		s.logger.Info().Str("user_id", su.ID).Str("api_key", su.APIKey).Msg("seed user stored")
	}

	return demoKey, nil
}
