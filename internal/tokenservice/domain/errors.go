package domain

import (
	"fmt"

	apperrors "github.com/allisson/bearertoken/internal/errors"
)

// Sentinel errors the service and its callers branch on. Each wraps the
// shared internal/errors taxonomy so httputil's error-to-status mapping
// keeps working without a tokenservice-specific case.
var (
	ErrTokenMalformed      = fmt.Errorf("tokenservice: malformed bearer token: %w", apperrors.ErrMalformed)
	ErrTokenExpired        = fmt.Errorf("tokenservice: access token expired: %w", apperrors.ErrExpired)
	ErrTokenInvalidated    = fmt.Errorf("tokenservice: access token invalidated: %w", apperrors.ErrUnauthorized)
	ErrRefreshInvalidGrant = fmt.Errorf("tokenservice: refresh token invalid or expired: %w", apperrors.ErrInvalidGrant)
	ErrRefreshTokenExpired = fmt.Errorf("tokenservice: refresh token expired: %w", apperrors.ErrInvalidGrant)
	ErrServiceDisabled     = fmt.Errorf("tokenservice: disabled by configuration: %w", apperrors.ErrDisabled)
	ErrConflictExhausted   = fmt.Errorf("tokenservice: too many concurrent refresh attempts: %w", apperrors.ErrTransient)
	ErrFatalInconsistency  = fmt.Errorf("tokenservice: persisted state violates an invariant the caller cannot repair: %w", apperrors.ErrFatalInconsistency)
)
