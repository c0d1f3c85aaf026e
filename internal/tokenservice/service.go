// Package tokenservice implements bearer access-token and refresh-token
// minting, validation, refresh, and invalidation over internal/store,
// internal/codec and internal/keyring. Grounded stage-by-stage on
// original_source's TokenService.java, restructured around Go's explicit
// error returns and the teacher's usecase/decorator layering instead of
// ActionListener callback chains.
package tokenservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allisson/bearertoken/internal/backoff"
	"github.com/allisson/bearertoken/internal/clock"
	"github.com/allisson/bearertoken/internal/codec"
	apperrors "github.com/allisson/bearertoken/internal/errors"
	"github.com/allisson/bearertoken/internal/store"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// Config tunes the operational parameters createOAuth2Tokens and the
// refresh/invalidation engines need, mirroring the TOKEN_EXPIRATION_SECONDS /
// DELETE_INTERVAL_SECONDS settings plus the fixed constants the
// spec carries (idempotence window, refresh-token TTL).
type Config struct {
	TokenExpiration       time.Duration
	ServiceEnabled        bool
	RefreshIdempotenceWindow time.Duration
	RefreshTokenTTL       time.Duration
	Backoff               backoff.Config

	// DeleteInterval bounds how often maybeStartExpiredTokenRemover fires
	// the ExpiredTokenRemover hook, checked at the top of every
	// invalidation path.
	DeleteInterval time.Duration
	// ExpiredTokenRemover is submitted, fire-and-forget, once per
	// DeleteInterval. Defaults to a no-op: actually sweeping expired
	// documents is an out-of-scope background job, this is only the
	// trigger point the original wires it through.
	ExpiredTokenRemover func(ctx context.Context)
}

// DefaultConfig mirrors TOKEN_EXPIRATION's 20-minute default and the
// spec's fixed 30s idempotence window.
func DefaultConfig() Config {
	return Config{
		TokenExpiration:          20 * time.Minute,
		ServiceEnabled:           true,
		RefreshIdempotenceWindow: 30 * time.Second,
		RefreshTokenTTL:          24 * time.Hour,
		Backoff:                  backoff.DefaultConfig(),
		DeleteInterval:           30 * time.Minute,
	}
}

// Service is the token service facade: the thing a request handler calls
// into to mint, validate, refresh, or invalidate bearer tokens.
type Service struct {
	cfg    Config
	clk    clock.Clock
	repo   *repository
	codec  *codec.Codec
	refresh *refreshEngine
	invalidate *invalidationEngine

	expirationMu        sync.Mutex
	lastExpirationRun    time.Time
	expiredTokenRemover func(ctx context.Context)
}

// New builds a Service over st/cd, with clk as the time source (tests
// substitute clock.NewFake).
func New(cfg Config, clk clock.Clock, st store.Store, cd *codec.Codec) *Service {
	repo := newRepository(st, cfg.Backoff)
	remover := cfg.ExpiredTokenRemover
	if remover == nil {
		remover = func(context.Context) {}
	}
	svc := &Service{cfg: cfg, clk: clk, repo: repo, codec: cd, expiredTokenRemover: remover}

	svc.refresh = &refreshEngine{
		repo:              repo,
		clk:               clk,
		boff:              cfg.Backoff,
		idempotenceWindow: cfg.RefreshIdempotenceWindow,
		refreshTokenTTL:   cfg.RefreshTokenTTL,
		mint:              svc.mintPair,
	}
	svc.invalidate = &invalidationEngine{repo: repo, boff: cfg.Backoff}
	return svc
}

func (s *Service) ensureEnabled() error {
	if !s.cfg.ServiceEnabled {
		return domain.ErrServiceDisabled
	}
	return nil
}

// maybeStartExpiredTokenRemover submits the expired-document sweeper at
// most once per DeleteInterval. Called at the top of every invalidation
// path. The submission is fire-and-forget against context.Background(),
// since the sweeper outlives the invalidation request that triggered it.
func (s *Service) maybeStartExpiredTokenRemover() {
	if s.cfg.DeleteInterval <= 0 {
		return
	}

	s.expirationMu.Lock()
	now := s.clk.Now()
	if now.Sub(s.lastExpirationRun) < s.cfg.DeleteInterval {
		s.expirationMu.Unlock()
		return
	}
	s.lastExpirationRun = now
	s.expirationMu.Unlock()

	go s.expiredTokenRemover(context.Background())
}

// mintPair builds a fresh UserToken + RefreshTokenDoc pair for auth,
// issued on behalf of originatingClient. It does not write anything —
// CreateOAuth2Tokens and the refresh engine both call it and then persist
// the returned document themselves, since a refresh's new document has a
// caller-chosen id (the superseding doc id) while a fresh mint does not.
func (s *Service) mintPair(ctx context.Context, auth domain.Authentication, originatingClient domain.ClientInfo) (domain.UserToken, *domain.RefreshTokenDoc, string, error) {
	accessToken := domain.UserToken{
		ID:             newDocumentID(),
		Authentication: auth,
		ExpiresAt:      s.clk.Now().Add(s.cfg.TokenExpiration),
		MinNodeVersion: minNodeVersionModern,
	}
	refreshTokenStr := newDocumentID()
	refreshDoc := &domain.RefreshTokenDoc{
		Token:       refreshTokenStr,
		Invalidated: false,
		Refreshed:   false,
		Client:      originatingClient,
	}
	return accessToken, refreshDoc, refreshTokenStr, nil
}

// CreateOAuth2Tokens mints a new access token and, if includeRefreshToken,
// a refresh token, persisting both under a fresh document id. The
// returned bearer string is the codec-encoded form of the access token's
// id — the caller hands that string back to the OAuth2 client, never the
// raw document id.
func (s *Service) CreateOAuth2Tokens(
	ctx context.Context,
	auth domain.Authentication,
	originatingClient domain.ClientInfo,
	includeRefreshToken bool,
) (bearer string, refreshToken string, err error) {
	if err := s.ensureEnabled(); err != nil {
		return "", "", err
	}

	accessToken, refreshDoc, refreshTokenStr, err := s.mintPair(ctx, auth, originatingClient)
	if err != nil {
		return "", "", err
	}
	if !includeRefreshToken {
		refreshDoc = nil
		refreshTokenStr = ""
	}

	doc := &domain.TokenDocument{
		DocType:      domain.TokenDocType,
		CreationTime: s.clk.Now(),
		AccessToken: domain.AccessTokenDoc{
			UserToken: accessToken,
			Realm:     auth.Client.Realm,
		},
		RefreshToken: refreshDoc,
	}

	if err := s.repo.create(ctx, accessToken.ID, doc); err != nil {
		return "", "", err
	}

	return codec.EncodeModern(accessToken.ID), refreshTokenStr, nil
}

// Validate decodes bearer and returns the Authentication it resolves to.
// Any decode failure or invalid/expired document state is reported as
// (Authentication{}, false, err); callers should treat false the same way
// regardless of err being nil or set — false always means "not this
// service's token."
func (s *Service) Validate(ctx context.Context, bearer string) (domain.Authentication, bool, error) {
	if err := s.ensureEnabled(); err != nil {
		return domain.Authentication{}, false, err
	}

	tokenID, ok := s.codec.Decode(ctx, bearer)
	if !ok {
		return domain.Authentication{}, false, nil
	}

	doc, _, _, err := s.repo.get(ctx, tokenID)
	if err != nil {
		if err == store.ErrNotFound {
			return domain.Authentication{}, false, nil
		}
		return domain.Authentication{}, false, err
	}

	if err := validateAccessToken(s.clk, doc); err != nil {
		return domain.Authentication{}, false, err
	}

	return doc.AccessToken.UserToken.Authentication, true, nil
}

// Refresh exchanges a refresh token string for a new access/refresh pair,
// enforcing that requester matches the original client binding.
func (s *Service) Refresh(ctx context.Context, refreshToken string, requester domain.ClientInfo) (*RefreshResult, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}

	docID, err := s.findDocumentIDByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return s.refresh.Refresh(ctx, docID, requester)
}

// findDocumentIDByRefreshToken resolves the opaque refresh token string
// to its owning document id via internal/store.Search, mirroring Stage
// A's "search by {doc_type=token, refresh_token.token=<string>}; expect
// exactly one hit; zero -> INVALID_GRANT; more than one -> fatal
// inconsistency." Fetches two rows so a second match is actually
// observed rather than silently truncated by Size: 1.
func (s *Service) findDocumentIDByRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	result, err := s.repo.search(ctx, store.Query{
		Filters: []store.Filter{
			{Path: []string{"doc_type"}, Value: domain.TokenDocType},
			{Path: []string{"refresh_token", "token"}, Value: refreshToken},
		},
		Size: 2,
	})
	if err != nil {
		return "", err
	}
	switch len(result.Documents) {
	case 0:
		return "", domain.ErrRefreshInvalidGrant
	case 1:
		return result.Documents[0].ID, nil
	default:
		return "", fmt.Errorf("%w: %d documents share refresh token %q", domain.ErrFatalInconsistency, len(result.Documents), refreshToken)
	}
}

// InvalidateAccessToken decodes bearer and invalidates its document.
func (s *Service) InvalidateAccessToken(ctx context.Context, bearer string) (*InvalidationResult, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}
	s.maybeStartExpiredTokenRemover()
	tokenID, ok := s.codec.Decode(ctx, bearer)
	if !ok {
		return nil, fmt.Errorf("%w: access token", apperrors.ErrMalformed)
	}
	return s.invalidate.InvalidateAccessToken(ctx, tokenID)
}

// InvalidateRefreshToken resolves refreshToken to its document id and
// invalidates it.
func (s *Service) InvalidateRefreshToken(ctx context.Context, refreshToken string) (*InvalidationResult, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}
	s.maybeStartExpiredTokenRemover()
	docID, err := s.findDocumentIDByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return s.invalidate.InvalidateRefreshToken(ctx, docID)
}

// InvalidateActiveTokensForRealmAndUser invalidates every token belonging
// to realm and/or user. At least one of the two must be non-empty.
func (s *Service) InvalidateActiveTokensForRealmAndUser(ctx context.Context, realm, user string) (*InvalidationResult, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}
	if realm == "" && user == "" {
		return nil, fmt.Errorf("%w: realm name or username must be provided", apperrors.ErrInvalidInput)
	}
	s.maybeStartExpiredTokenRemover()

	ids, err := s.findActiveDocumentIDs(ctx, realm, user)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &InvalidationResult{}, nil
	}
	return s.invalidate.InvalidateAllTokens(ctx, ids)
}

// findActiveDocumentIDs queries for non-invalidated access-token
// documents scoped by realm and/or user, mirroring
// findActiveTokensForRealm/findActiveTokensForUser.
func (s *Service) findActiveDocumentIDs(ctx context.Context, realm, user string) ([]string, error) {
	filters := []store.Filter{{Path: []string{"access_token", "invalidated"}, Value: "false"}}
	if realm != "" {
		filters = append(filters, store.Filter{Path: []string{"access_token", "realm"}, Value: realm})
	}
	if user != "" {
		filters = append(filters, store.Filter{
			Path:  []string{"access_token", "user_token", "authentication", "username"},
			Value: user,
		})
	}

	var ids []string
	offset := 0
	for {
		result, err := s.repo.search(ctx, store.Query{Filters: filters, Size: 1000, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, doc := range result.Documents {
			ids = append(ids, doc.ID)
		}
		if !result.HasMore {
			return ids, nil
		}
		offset = result.NextOffset
	}
}

// FindActiveTokensForRealm paginates every active access token document
// belonging to realm, surfacing store errors rather than returning an
// empty slice (see DESIGN.md's Open Question resolution).
func (s *Service) FindActiveTokensForRealm(ctx context.Context, realm string) ([]domain.UserToken, error) {
	return s.findActiveUserTokens(ctx, realm, "")
}

// FindActiveTokensForUser paginates every active access token document
// belonging to user across all realms.
func (s *Service) FindActiveTokensForUser(ctx context.Context, user string) ([]domain.UserToken, error) {
	return s.findActiveUserTokens(ctx, "", user)
}

func (s *Service) findActiveUserTokens(ctx context.Context, realm, user string) ([]domain.UserToken, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}
	ids, err := s.findActiveDocumentIDs(ctx, realm, user)
	if err != nil {
		return nil, err
	}

	tokens := make([]domain.UserToken, 0, len(ids))
	for _, id := range ids {
		doc, _, _, err := s.repo.get(ctx, id)
		if err != nil {
			if err == store.ErrNotFound {
				continue // deleted between search and get; not an error.
			}
			return nil, err
		}
		if err := requireTokenIDPrefix(doc.AccessToken.UserToken.ID); err != nil {
			return nil, err
		}
		tokens = append(tokens, doc.AccessToken.UserToken)
	}
	return tokens, nil
}
