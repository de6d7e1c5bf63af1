package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/prn-tf/cloudidada/internal/store"
)

// Primary result codes (the low byte of an extended code).
const (
	resultBusy     = 5
	resultLocked   = 6
	resultPerm     = 3
	resultReadOnly = 8
	resultAuth     = 23
)

// coder is satisfied by *sqlite.Error from modernc.org/sqlite.
type coder interface {
	Code() int
}

// classify maps a database/sql error onto store.ErrNotFound or a *store.ProviderError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	pe := &store.ProviderError{
		Provider: "sqlite",
		Op:       op,
		Code:     store.CodeUnknown,
		Err:      err,
	}

	// SQLite reports a missing table as a generic SQLITE_ERROR.
	if strings.Contains(err.Error(), "no such table") {
		pe.Code = store.CodeNotProvisioned
		return pe
	}

	var c coder
	if errors.As(err, &c) {
		pe.ProviderCode = strconv.Itoa(c.Code())
		switch c.Code() & 0xff {
		case resultPerm, resultReadOnly, resultAuth:
			pe.Code = store.CodePermissionDenied
		case resultBusy, resultLocked:
			pe.Code = store.CodeUnavailable
		}
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		pe.Code = store.CodeUnavailable
	}
	return pe
}
