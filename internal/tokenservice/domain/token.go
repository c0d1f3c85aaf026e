// Package domain models the bearer and refresh token documents the token
// service reads and writes through internal/store, plus the small value
// types (Authentication, ClientInfo) that get embedded inside them.
// Grounded on internal/auth/domain/token.go's shape, supplemented with the
// richer field set original_source/.../TokenService.java's document
// layout carries (doc_type, creation_time, nested client/refresh_token
// objects) since the distilled spec only named the operations, not the
// wire shape.
package domain

import "time"

// ClientType distinguishes how the principal behind a token authenticated,
// mirroring the USER vs API_KEY distinction original_source's
// Authentication.AuthenticationType carries but the distilled spec
// dropped.
type ClientType string

const (
	ClientTypeUser   ClientType = "USER"
	ClientTypeAPIKey ClientType = "API_KEY"
)

// ClientInfo identifies who a token was issued to and through which
// realm, embedded in both the access and refresh token documents.
type ClientInfo struct {
	Type  ClientType `json:"type"`
	User  string     `json:"user"`
	Realm string     `json:"realm"`
}

// Authentication is the principal a validated access token resolves to.
// A real deployment would carry roles/metadata here too; this repo keeps
// only what the refresh and invalidation paths need to key lookups on.
type Authentication struct {
	Username string     `json:"username"`
	Client   ClientInfo `json:"client"`
}

// UserToken is one minted access token: an opaque id plus the
// authentication it resolves to and when it stops being valid.
type UserToken struct {
	ID             string         `json:"id"`
	Authentication Authentication `json:"authentication"`
	ExpiresAt      time.Time      `json:"expires_at"`

	// MinNodeVersion records the encoding version the minting node used
	// (not a live cluster version), so a later refresh's Stage C
	// idempotence check can tell a modern-minted token, which may be
	// replayed within the idempotence window, from a legacy-minted one,
	// which may never be replayed.
	MinNodeVersion string `json:"min_node_version"`
}

// AccessTokenDoc is the "access_token" sub-object of a token document.
type AccessTokenDoc struct {
	UserToken   UserToken  `json:"user_token"`
	Invalidated bool       `json:"invalidated"`
	Realm       string     `json:"realm"`
}

// RefreshTokenDoc is the "refresh_token" sub-object of a token document,
// present only on documents minted through the OAuth2 token-grant path
// (API-key-issued tokens have no refresh token).
type RefreshTokenDoc struct {
	Token        string     `json:"token"`
	Invalidated  bool       `json:"invalidated"`
	Refreshed    bool       `json:"refreshed"`
	RefreshTime  *time.Time `json:"refresh_time,omitempty"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	Client       ClientInfo `json:"client"`
}

// TokenDocType is the constant "doc_type" discriminator field every token
// document carries, matching the original's single-index convention.
const TokenDocType = "token"

// TokenDocument is the full JSON document stored under a token's id,
// decoded from/encoded to internal/store.Document.Source.
type TokenDocument struct {
	DocType      string           `json:"doc_type"`
	CreationTime time.Time        `json:"creation_time"`
	AccessToken  AccessTokenDoc   `json:"access_token"`
	RefreshToken *RefreshTokenDoc `json:"refresh_token,omitempty"`
}

// RefreshTokenStatus is the metadata extracted from a refresh token
// document needed for validity checks, without the token string itself —
// grounded directly on original_source's private RefreshTokenStatus
// record.
type RefreshTokenStatus struct {
	Invalidated      bool
	AssociatedUser   string
	AssociatedRealm  string
	Refreshed        bool
	RefreshInstant   *time.Time
	SupersededDocID  string
}

// StatusFromDocument extracts a RefreshTokenStatus from a decoded
// TokenDocument, mirroring RefreshTokenStatus.fromSourceMap's field
// extraction.
func StatusFromDocument(doc *TokenDocument) (RefreshTokenStatus, bool) {
	if doc.RefreshToken == nil {
		return RefreshTokenStatus{}, false
	}
	rt := doc.RefreshToken
	return RefreshTokenStatus{
		Invalidated:     rt.Invalidated,
		AssociatedUser:  rt.Client.User,
		AssociatedRealm: rt.Client.Realm,
		Refreshed:       rt.Refreshed,
		RefreshInstant:  rt.RefreshTime,
		SupersededDocID: rt.SupersededBy,
	}, true
}
