package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/service"
)

// maxJSONBody caps auth request bodies.
const maxJSONBody = 1 << 20

// UserHandler serves registration and login.
type UserHandler struct {
	users      *service.UserService
	status     *Status
	production bool
	logger     zerolog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *service.UserService, status *Status, production bool, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:      users,
		status:     status,
		production: production,
		logger:     logger.With().Str("handler", "user").Logger(),
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserName string `json:"userName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	UserID   string         `json:"userId"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	APIKey   string         `json:"apiKey"`
	Plan     domain.Plan    `json:"plan"`
	Token    string         `json:"token,omitempty"`
	Services servicesStatus `json:"services"`
}

func (h *UserHandler) userResponse(u *domain.User, token string) userResponse {
	return userResponse{
		UserID:   u.ID,
		Name:     u.UserName,
		Email:    u.Email,
		APIKey:   u.APIKey,
		Plan:     u.Plan,
		Token:    token,
		Services: h.status.services(),
	}
}

// Register handles POST /api/auth/register.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeAPIError(w, ErrInvalidBody)
		return
	}

	user, err := h.users.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		UserName: req.UserName,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, h.production)
		return
	}

	writeData(w, http.StatusCreated, "User registered successfully", h.userResponse(user, ""))
}

// Login handles POST /api/auth/login.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeAPIError(w, ErrInvalidBody)
		return
	}

	out, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err, h.production)
		return
	}

	writeData(w, http.StatusOK, "Login successful", h.userResponse(out.User, out.Token))
}
