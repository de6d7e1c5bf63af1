// Package domain contains the core business entities for Cloudidada.
// These are plain Go structs shared by every store tier, representing
// the accounts, uploaded files and activity log of the upload service.
package domain

import (
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	// PlanFree is the tier given to registered and auto-provisioned users.
	PlanFree Plan = "free"
)

// Usage holds the per-user consumption counters.
type Usage struct {
	// Storage is the total number of uploaded bytes.
	Storage int64 `json:"storage" bson:"storage"`

	// Requests is the number of upload requests served.
	Requests int64 `json:"requests" bson:"requests"`
}

// User represents an account that can upload files.
// Invariant: exactly one User per API key and exactly one User per email.
type User struct {
	// ID is the unique identifier ("user_..." or "auto_...").
	ID string `json:"userId" bson:"_id"`

	// UserName is the display name.
	UserName string `json:"userName" bson:"userName"`

	// Email is unique within the system.
	Email string `json:"email" bson:"email"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-" bson:"password"`

	// APIKey is the bearer credential sent in the x-api-key header.
	APIKey string `json:"apiKey" bson:"apiKey"`

	// Plan is the subscription tier.
	Plan Plan `json:"plan" bson:"plan"`

	// Usage holds the storage and request counters.
	Usage Usage `json:"usage" bson:"usage"`

	// AutoGenerated is set for users created implicitly from an unknown API key.
	AutoGenerated bool `json:"autoGenerated,omitempty" bson:"autoGenerated,omitempty"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NewUser creates a new free-tier User with zero usage.
func NewUser(id, userName, email, passwordHash, apiKey string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           id,
		UserName:     userName,
		Email:        email,
		PasswordHash: passwordHash,
		APIKey:       apiKey,
		Plan:         PlanFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ApplyUsage adds the deltas to the usage counters.
func (u *User) ApplyUsage(deltaBytes, deltaRequests int64) {
	u.Usage.Storage += deltaBytes
	u.Usage.Requests += deltaRequests
	u.UpdatedAt = time.Now().UTC()
}
