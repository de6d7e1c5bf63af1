package mongodb

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/prn-tf/cloudidada/internal/store"
)

// MongoDB server error codes used for classification.
const (
	codeUnauthorized       = 13
	codeAuthFailed         = 18
	codeNamespaceNotFound  = 26
	codeNamespaceExists    = 48
	codeAtlasError         = 8000
	codeInvalidNamespace   = 73
	codeDatabaseNotFound   = 60
	codeHostUnreachable    = 6
	codeHostNotFound       = 7
	codeNetworkTimeout     = 89
	codeShutdownInProgress = 91
)

// classify maps a driver error onto store.ErrNotFound or a *store.ProviderError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}

	pe := &store.ProviderError{
		Provider: "mongodb",
		Op:       op,
		Code:     store.CodeUnknown,
		Err:      err,
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		pe.Code = store.CodeUnavailable
		return pe
	}

	var se mongo.ServerError
	if !errors.As(err, &se) {
		return pe
	}

	for _, c := range []struct {
		code  int
		class store.ErrorCode
	}{
		{codeNamespaceNotFound, store.CodeNotProvisioned},
		{codeDatabaseNotFound, store.CodeNotProvisioned},
		{codeInvalidNamespace, store.CodeNotProvisioned},
		{codeUnauthorized, store.CodePermissionDenied},
		{codeAuthFailed, store.CodePermissionDenied},
		{codeAtlasError, store.CodePermissionDenied},
		{codeHostUnreachable, store.CodeUnavailable},
		{codeHostNotFound, store.CodeUnavailable},
		{codeNetworkTimeout, store.CodeUnavailable},
		{codeShutdownInProgress, store.CodeUnavailable},
	} {
		if se.HasErrorCode(c.code) {
			pe.Code = c.class
			pe.ProviderCode = fmt.Sprint(c.code)
			return pe
		}
	}
	return pe
}

// hasCode reports whether err is a server error carrying code.
func hasCode(err error, code int) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(code)
}
