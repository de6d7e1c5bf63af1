// Package store provides the two-tier entity persistence used by Cloudidada.
//
// A remote PrimaryStore (document database) is fronted by an in-process
// FallbackStore that acts as both read-through cache and fallback. The two
// are composed by FallbackingStore, which owns a one-way Breaker that
// permanently disables the remote tier after a qualifying provider error.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/prn-tf/cloudidada/internal/domain"
)

// ErrNotFound indicates the requested entity does not exist in the queried store.
// It is distinct from provider failures, which are reported as *ProviderError.
var ErrNotFound = errors.New("not found")

// EntityStore is the capability set shared by every store tier.
type EntityStore interface {
	// GetUserByID returns ErrNotFound when no user has the id.
	GetUserByID(ctx context.Context, id string) (*domain.User, error)

	// GetUserByAPIKey returns ErrNotFound when no user owns the key.
	GetUserByAPIKey(ctx context.Context, apiKey string) (*domain.User, error)

	// GetUserByEmail returns ErrNotFound when no user has the email.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// PutUser inserts or replaces a user keyed by its id.
	PutUser(ctx context.Context, user *domain.User) error

	// GetFile returns ErrNotFound when no file record has the id.
	GetFile(ctx context.Context, id string) (*domain.File, error)

	// PutFile inserts or replaces a file record keyed by its id.
	PutFile(ctx context.Context, file *domain.File) error

	// ListFilesByUser returns the user's files matching the filter, newest first.
	ListFilesByUser(ctx context.Context, userID string, filter domain.FileFilter) ([]*domain.File, error)

	// FileTotalsByUser returns the number and total size of the user's files.
	FileTotalsByUser(ctx context.Context, userID string) (*domain.FileTotals, error)

	// AppendActivity stores an activity under its generated id.
	AppendActivity(ctx context.Context, activity *domain.Activity) error

	// IncrementUsage adds the deltas to the user's usage counters.
	IncrementUsage(ctx context.Context, userID string, deltaBytes, deltaRequests int64) error
}

// PrimaryStore is the remote tier.
type PrimaryStore interface {
	EntityStore

	// Name identifies the provider in logs and health output.
	Name() string

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}

// Provisioner is implemented by remote stores that can create their own
// collections, tables and indexes.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// LocalStats summarizes the local map contents.
type LocalStats struct {
	Users      int `json:"users"`
	Files      int `json:"files"`
	APIKeys    int `json:"apiKeys"`
	Activities int `json:"activities"`
}

// FallbackStore is the in-process tier. Its operations never fail for
// availability reasons.
type FallbackStore interface {
	EntityStore

	Stats() LocalStats
}

// ErrorCode is the provider-independent classification of a remote failure.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "unknown"
	CodeNotProvisioned   ErrorCode = "not_provisioned"
	CodePermissionDenied ErrorCode = "permission_denied"
	CodeUnavailable      ErrorCode = "unavailable"
)

// ProviderError is a remote store failure carrying the provider error code.
type ProviderError struct {
	// Provider names the remote store ("mongo", "postgres", "sqlite").
	Provider string

	// Op is the store operation that failed.
	Op string

	// Code is the normalized classification.
	Code ErrorCode

	// ProviderCode is the raw provider code (e.g. "26", "42P01").
	ProviderCode string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("%s %s: %s (code %s): %v", e.Provider, e.Op, e.Code, e.ProviderCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}
