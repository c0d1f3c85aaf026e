package tokenservice

import (
	"context"

	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// UseCase is the interface request handlers and the metrics decorator
// depend on, satisfied by *Service. Kept separate from Service itself so
// NewWithMetrics can wrap it the way the teacher wraps every usecase.
type UseCase interface {
	CreateOAuth2Tokens(ctx context.Context, auth domain.Authentication, originatingClient domain.ClientInfo, includeRefreshToken bool) (bearer string, refreshToken string, err error)
	Validate(ctx context.Context, bearer string) (domain.Authentication, bool, error)
	Refresh(ctx context.Context, refreshToken string, requester domain.ClientInfo) (*RefreshResult, error)
	InvalidateAccessToken(ctx context.Context, bearer string) (*InvalidationResult, error)
	InvalidateRefreshToken(ctx context.Context, refreshToken string) (*InvalidationResult, error)
	InvalidateActiveTokensForRealmAndUser(ctx context.Context, realm, user string) (*InvalidationResult, error)
	FindActiveTokensForRealm(ctx context.Context, realm string) ([]domain.UserToken, error)
	FindActiveTokensForUser(ctx context.Context, user string) ([]domain.UserToken, error)
}

var _ UseCase = (*Service)(nil)
