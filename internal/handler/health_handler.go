package handler

import (
	"net/http"
	"time"

	"github.com/prn-tf/cloudidada/internal/service"
	"github.com/prn-tf/cloudidada/internal/store"
)

// Status describes the process dependencies reported by health and auth responses.
type Status struct {
	Store       service.Store
	ObjectStore string
	Realtime    bool
	Environment string
}

type servicesStatus struct {
	RemoteStore bool `json:"remoteStore"`
	ObjectStore bool `json:"objectStore"`
	Realtime    bool `json:"realtime"`
}

type storageStatus struct {
	Remote      string `json:"remote"`
	RemoteOK    bool   `json:"remoteConnected"`
	Memory      bool   `json:"memory"`
	ObjectStore string `json:"objectStore"`
}

type breakerStatus struct {
	State     string     `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	TrippedAt *time.Time `json:"trippedAt,omitempty"`
}

type healthResponse struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	Timestamp   string           `json:"timestamp"`
	Environment string           `json:"environment"`
	Services    servicesStatus   `json:"services"`
	Storage     storageStatus    `json:"storage"`
	Breaker     breakerStatus    `json:"breaker"`
	MemoryStats store.LocalStats `json:"memoryStats"`
}

func (s *Status) services() servicesStatus {
	return servicesStatus{
		RemoteStore: s.Store.RemoteUsable(),
		ObjectStore: s.ObjectStore != "",
		Realtime:    s.Realtime,
	}
}

// HealthHandler serves the unauthenticated health endpoint.
type HealthHandler struct {
	status *Status
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(status *Status) *HealthHandler {
	return &HealthHandler{status: status}
}

// Health reports process and store state. It always returns 200.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	b := h.status.Store.Breaker()
	breaker := breakerStatus{
		State:  b.State().String(),
		Reason: b.Reason(),
	}
	if at := b.TrippedAt(); !at.IsZero() {
		breaker.TrippedAt = &at
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Message:     "Cloudidada server is running",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.status.Environment,
		Services:    h.status.services(),
		Storage: storageStatus{
			Remote:      h.status.Store.RemoteName(),
			RemoteOK:    h.status.Store.RemoteUsable(),
			Memory:      true,
			ObjectStore: h.status.ObjectStore,
		},
		Breaker:     breaker,
		MemoryStats: h.status.Store.LocalStats(),
	})
}

// ProvisionHandler serves the remote store initialization endpoint.
type ProvisionHandler struct {
	provision *service.ProvisionService
}

// NewProvisionHandler creates a ProvisionHandler.
func NewProvisionHandler(provision *service.ProvisionService) *ProvisionHandler {
	return &ProvisionHandler{provision: provision}
}

// InitDB provisions the remote store. A store that is not connected is
// reported with 200 and success false; a failed attempt with 500.
func (h *ProvisionHandler) InitDB(w http.ResponseWriter, r *http.Request) {
	res, err := h.provision.InitDB(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
