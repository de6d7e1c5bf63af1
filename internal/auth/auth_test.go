package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/cloudidada/internal/domain"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func TestAPIKeyMiddleware(t *testing.T) {
	user := domain.NewUser("user_1", "alice", "alice@example.com", "", "cld_valid_key")

	tests := []struct {
		name       string
		apiKey     string
		setupMock  func(*mockResolver)
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing header",
			setupMock:  func(m *mockResolver) {},
			wantStatus: http.StatusUnauthorized,
			wantError:  "API key required",
		},
		{
			name:   "rejected key",
			apiKey: "bogus",
			setupMock: func(m *mockResolver) {
				m.On("ResolveAPIKey", mock.Anything, "bogus").Return(nil, domain.ErrInvalidAPIKey)
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid API key",
		},
		{
			name:   "resolver failure",
			apiKey: "cld_valid_key",
			setupMock: func(m *mockResolver) {
				m.On("ResolveAPIKey", mock.Anything, "cld_valid_key").Return(nil, errors.New("boom"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Authentication failed",
		},
		{
			name:   "valid key",
			apiKey: "cld_valid_key",
			setupMock: func(m *mockResolver) {
				m.On("ResolveAPIKey", mock.Anything, "cld_valid_key").Return(user, nil)
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{}
			tt.setupMock(resolver)

			var gotUser *domain.User
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			if tt.apiKey != "" {
				req.Header.Set(APIKeyHeader, tt.apiKey)
			}
			rec := httptest.NewRecorder()

			APIKeyMiddleware(resolver, zerolog.Nop())(next).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			resolver.AssertExpectations(t)

			if tt.wantError != "" {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, false, body["success"])
				require.Equal(t, tt.wantError, body["error"])
				require.Nil(t, gotUser)
				return
			}
			require.Equal(t, user, gotUser)
		})
	}
}

func TestTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer("", time.Hour, "cloudidada")
	require.ErrorIs(t, err, ErrMissingSecret)

	issuer, err := NewTokenIssuer("secret", time.Hour, "cloudidada")
	require.NoError(t, err)

	user := domain.NewUser("user_1", "alice", "alice@example.com", "", "cld_abc")
	token, err := issuer.Issue(user)
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user_1", claims.UserID)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, "cld_abc", claims.APIKey)

	other, err := NewTokenIssuer("other-secret", time.Hour, "cloudidada")
	require.NoError(t, err)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewTokenIssuer("secret", -time.Minute, "cloudidada")
	require.NoError(t, err)
	stale, err := expired.Issue(user)
	require.NoError(t, err)
	_, err = issuer.Parse(stale)
	require.ErrorIs(t, err, ErrInvalidToken)
}
