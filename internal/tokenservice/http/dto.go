// Package http provides the admin HTTP surface over internal/tokenservice:
// issuing, validating, refreshing, and invalidating bearer tokens.
// Grounded on internal/auth/http/{dto,token_handler}.go's request/response
// and jellydator/validation shape.
package http

import (
	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/bearertoken/internal/validation"
)

// IssueTokenRequest requests a new access/refresh token pair on behalf of
// a username authenticated through realm.
type IssueTokenRequest struct {
	Username            string `json:"username"`
	Realm               string `json:"realm"`
	OriginatingUser     string `json:"originating_user"`
	OriginatingRealm    string `json:"originating_realm"`
	IncludeRefreshToken bool   `json:"include_refresh_token"`
}

func (r *IssueTokenRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Username, validation.Required, customValidation.NotBlank),
		validation.Field(&r.Realm, validation.Required, customValidation.NotBlank),
		validation.Field(&r.OriginatingUser, validation.Required, customValidation.NotBlank),
		validation.Field(&r.OriginatingRealm, validation.Required, customValidation.NotBlank),
	)
}

// IssueTokenResponse mirrors the OAuth2 token-grant response shape.
type IssueTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ValidateTokenRequest carries the bearer string to authenticate.
type ValidateTokenRequest struct {
	AccessToken string `json:"access_token"`
}

func (r *ValidateTokenRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.AccessToken, validation.Required, customValidation.NotBlank),
	)
}

// ValidateTokenResponse reports who a valid bearer resolves to.
type ValidateTokenResponse struct {
	Username string `json:"username"`
	Realm    string `json:"realm"`
}

// RefreshTokenRequest requests a new token pair in exchange for a refresh
// token, binding the new pair to the same originating client.
type RefreshTokenRequest struct {
	RefreshToken     string `json:"refresh_token"`
	OriginatingUser  string `json:"originating_user"`
	OriginatingRealm string `json:"originating_realm"`
}

func (r *RefreshTokenRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required, customValidation.NotBlank),
		validation.Field(&r.OriginatingUser, validation.Required, customValidation.NotBlank),
		validation.Field(&r.OriginatingRealm, validation.Required, customValidation.NotBlank),
	)
}

// InvalidateTokenRequest invalidates one access or refresh token.
type InvalidateTokenRequest struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (r *InvalidateTokenRequest) Validate() error {
	if r.AccessToken == "" && r.RefreshToken == "" {
		return validation.Errors{"access_token": validation.NewError("validation_required", "either access_token or refresh_token must be provided")}
	}
	return nil
}

// InvalidateRealmUserRequest bulk-invalidates every token for a realm
// and/or user.
type InvalidateRealmUserRequest struct {
	Realm    string `json:"realm,omitempty"`
	Username string `json:"username,omitempty"`
}

func (r *InvalidateRealmUserRequest) Validate() error {
	if r.Realm == "" && r.Username == "" {
		return validation.Errors{"realm": validation.NewError("validation_required", "either realm or username must be provided")}
	}
	return nil
}

// InvalidationResponse reports a bulk-invalidation outcome.
type InvalidationResponse struct {
	Invalidated           []string `json:"invalidated"`
	PreviouslyInvalidated []string `json:"previously_invalidated"`
	Errors                []string `json:"errors,omitempty"`
}
