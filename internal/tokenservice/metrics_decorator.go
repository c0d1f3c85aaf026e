package tokenservice

import (
	"context"
	"time"

	"github.com/allisson/bearertoken/internal/metrics"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// useCaseWithMetrics decorates UseCase with metrics instrumentation,
// grounded on internal/auth/usecase/metrics_decorator.go's
// tokenUseCaseWithMetrics shape.
type useCaseWithMetrics struct {
	next    UseCase
	metrics metrics.BusinessMetrics
}

// NewWithMetrics wraps a UseCase with metrics recording.
func NewWithMetrics(next UseCase, m metrics.BusinessMetrics) UseCase {
	return &useCaseWithMetrics{next: next, metrics: m}
}

func (u *useCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	u.metrics.RecordOperation(ctx, "tokenservice", operation, status)
	u.metrics.RecordDuration(ctx, "tokenservice", operation, time.Since(start), status)
}

func (u *useCaseWithMetrics) CreateOAuth2Tokens(
	ctx context.Context,
	auth domain.Authentication,
	originatingClient domain.ClientInfo,
	includeRefreshToken bool,
) (string, string, error) {
	start := time.Now()
	bearer, refreshToken, err := u.next.CreateOAuth2Tokens(ctx, auth, originatingClient, includeRefreshToken)
	u.record(ctx, "create_tokens", start, err)
	return bearer, refreshToken, err
}

func (u *useCaseWithMetrics) Validate(ctx context.Context, bearer string) (domain.Authentication, bool, error) {
	start := time.Now()
	auth, ok, err := u.next.Validate(ctx, bearer)
	u.record(ctx, "validate", start, err)
	return auth, ok, err
}

func (u *useCaseWithMetrics) Refresh(ctx context.Context, refreshToken string, requester domain.ClientInfo) (*RefreshResult, error) {
	start := time.Now()
	result, err := u.next.Refresh(ctx, refreshToken, requester)
	u.record(ctx, "refresh", start, err)
	return result, err
}

func (u *useCaseWithMetrics) InvalidateAccessToken(ctx context.Context, bearer string) (*InvalidationResult, error) {
	start := time.Now()
	result, err := u.next.InvalidateAccessToken(ctx, bearer)
	u.record(ctx, "invalidate_access_token", start, err)
	return result, err
}

func (u *useCaseWithMetrics) InvalidateRefreshToken(ctx context.Context, refreshToken string) (*InvalidationResult, error) {
	start := time.Now()
	result, err := u.next.InvalidateRefreshToken(ctx, refreshToken)
	u.record(ctx, "invalidate_refresh_token", start, err)
	return result, err
}

func (u *useCaseWithMetrics) InvalidateActiveTokensForRealmAndUser(ctx context.Context, realm, user string) (*InvalidationResult, error) {
	start := time.Now()
	result, err := u.next.InvalidateActiveTokensForRealmAndUser(ctx, realm, user)
	u.record(ctx, "invalidate_realm_user", start, err)
	return result, err
}

func (u *useCaseWithMetrics) FindActiveTokensForRealm(ctx context.Context, realm string) ([]domain.UserToken, error) {
	start := time.Now()
	tokens, err := u.next.FindActiveTokensForRealm(ctx, realm)
	u.record(ctx, "find_active_tokens_for_realm", start, err)
	return tokens, err
}

func (u *useCaseWithMetrics) FindActiveTokensForUser(ctx context.Context, user string) ([]domain.UserToken, error) {
	start := time.Now()
	tokens, err := u.next.FindActiveTokensForUser(ctx, user)
	u.record(ctx, "find_active_tokens_for_user", start, err)
	return tokens, err
}
