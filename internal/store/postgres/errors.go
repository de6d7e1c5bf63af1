package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/cloudidada/internal/store"
)

// SQLSTATE codes mapped onto store error codes.
var sqlStateCodes = map[string]store.ErrorCode{
	"42P01": store.CodeNotProvisioned,   // undefined_table
	"3F000": store.CodeNotProvisioned,   // invalid_schema_name
	"3D000": store.CodeNotProvisioned,   // invalid_catalog_name
	"42501": store.CodePermissionDenied, // insufficient_privilege
	"28000": store.CodePermissionDenied, // invalid_authorization_specification
	"28P01": store.CodePermissionDenied, // invalid_password
	"57P01": store.CodeUnavailable,      // admin_shutdown
	"57P03": store.CodeUnavailable,      // cannot_connect_now
	"53300": store.CodeUnavailable,      // too_many_connections
}

// classify maps a pgx error onto store.ErrNotFound or a *store.ProviderError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	pe := &store.ProviderError{
		Provider: "postgres",
		Op:       op,
		Code:     store.CodeUnknown,
		Err:      err,
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		pe.ProviderCode = pgErr.Code
		if code, ok := sqlStateCodes[pgErr.Code]; ok {
			pe.Code = code
		}
		return pe
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		pe.Code = store.CodeUnavailable
	}
	return pe
}
