package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/bearertoken/internal/errors"
	"github.com/allisson/bearertoken/internal/httputil"
	"github.com/allisson/bearertoken/internal/tokenservice"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
	customValidation "github.com/allisson/bearertoken/internal/validation"
)

// Handler exposes the token service's operations over HTTP, grounded on
// internal/auth/http/token_handler.go's bind-validate-call-respond shape.
type Handler struct {
	useCase tokenservice.UseCase
	logger  *slog.Logger
}

// NewHandler builds a Handler over useCase.
func NewHandler(useCase tokenservice.UseCase, logger *slog.Logger) *Handler {
	return &Handler{useCase: useCase, logger: logger}
}

// IssueToken handles POST /v1/tokens.
func (h *Handler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	auth := domain.Authentication{
		Username: req.Username,
		Client:   domain.ClientInfo{Type: domain.ClientTypeUser, User: req.Username, Realm: req.Realm},
	}
	originating := domain.ClientInfo{Type: domain.ClientTypeUser, User: req.OriginatingUser, Realm: req.OriginatingRealm}

	bearer, refreshToken, err := h.useCase.CreateOAuth2Tokens(c.Request.Context(), auth, originating, req.IncludeRefreshToken)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, IssueTokenResponse{
		AccessToken:  bearer,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
	})
}

// ValidateToken handles POST /v1/tokens/validate.
func (h *Handler) ValidateToken(c *gin.Context) {
	var req ValidateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	auth, ok, err := h.useCase.Validate(c.Request.Context(), req.AccessToken)
	if err != nil {
		if apperrors.Is(err, domain.ErrTokenInvalidated) {
			c.Header("WWW-Authenticate", `Bearer realm="security", error="invalid_token", error_description="the token has been invalidated"`)
		}
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	if !ok {
		c.Header("WWW-Authenticate", `Bearer realm="security", error="invalid_token", error_description="failed to authenticate"`)
		httputil.HandleErrorGin(c, domain.ErrTokenMalformed, h.logger)
		return
	}

	c.JSON(http.StatusOK, ValidateTokenResponse{Username: auth.Username, Realm: auth.Client.Realm})
}

// RefreshToken handles POST /v1/tokens/refresh.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	requester := domain.ClientInfo{Type: domain.ClientTypeUser, User: req.OriginatingUser, Realm: req.OriginatingRealm}
	result, err := h.useCase.Refresh(c.Request.Context(), req.RefreshToken, requester)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, IssueTokenResponse{
		AccessToken:  result.Bearer,
		TokenType:    "Bearer",
		RefreshToken: result.RefreshToken,
	})
}

// InvalidateToken handles POST /v1/tokens/invalidate.
func (h *Handler) InvalidateToken(c *gin.Context) {
	var req InvalidateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	var result *tokenservice.InvalidationResult
	var err error
	if req.AccessToken != "" {
		result, err = h.useCase.InvalidateAccessToken(c.Request.Context(), req.AccessToken)
	} else {
		result, err = h.useCase.InvalidateRefreshToken(c.Request.Context(), req.RefreshToken)
	}
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, toInvalidationResponse(result))
}

// InvalidateRealmUser handles POST /v1/tokens/invalidate-realm-user, the
// admin bulk-invalidation surface.
func (h *Handler) InvalidateRealmUser(c *gin.Context) {
	var req InvalidateRealmUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	result, err := h.useCase.InvalidateActiveTokensForRealmAndUser(c.Request.Context(), req.Realm, req.Username)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, toInvalidationResponse(result))
}

func toInvalidationResponse(result *tokenservice.InvalidationResult) InvalidationResponse {
	resp := InvalidationResponse{
		Invalidated:           result.Invalidated,
		PreviouslyInvalidated: result.PreviouslyInvalidated,
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	return resp
}
