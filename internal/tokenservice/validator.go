package tokenservice

import (
	"strconv"
	"strings"
	"time"

	"github.com/allisson/bearertoken/internal/clock"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// minNodeVersionModern is the threshold spec.md §4.5 Stage C and
// original_source's checkMultipleRefreshes compare a token's minting-node
// version against: tokens minted by a node at or above this version may
// be replayed within the idempotence window; older tokens may never be
// replayed.
const minNodeVersionModern = "7.1.0"

// versionAtLeast reports whether v is >= threshold, comparing dotted
// numeric components left to right (a missing trailing component is
// treated as 0), the way a cluster node version compares. An empty or
// unparsable v is treated as pre-threshold, matching the original's
// "unknown means legacy" default.
func versionAtLeast(v, threshold string) bool {
	if v == "" {
		return false
	}
	vParts := strings.Split(v, ".")
	tParts := strings.Split(threshold, ".")
	for i := 0; i < len(vParts) || i < len(tParts); i++ {
		var vn, tn int
		if i < len(vParts) {
			vn, _ = strconv.Atoi(vParts[i])
		}
		if i < len(tParts) {
			tn, _ = strconv.Atoi(tParts[i])
		}
		if vn != tn {
			return vn > tn
		}
	}
	return true
}

// validateAccessToken checks an access-token document against the
// current time, grounded on checkTokenDocumentExpired plus the
// access_token.invalidated flag check from the original's
// getUserTokenFromId path.
func validateAccessToken(clk clock.Clock, doc *domain.TokenDocument) error {
	if doc.AccessToken.Invalidated {
		return domain.ErrTokenInvalidated
	}
	if clk.Now().After(doc.AccessToken.UserToken.ExpiresAt) {
		return domain.ErrTokenExpired
	}
	return nil
}

// idempotenceWindowFn reports whether now falls outside the idempotence
// window around a previous refresh. The refresh engine closes over its
// configured window duration and hands the validator this function
// rather than the duration itself, keeping the validator free of config.
type idempotenceWindowFn func(now time.Time, refreshedAt time.Time) error

// validateRefreshRequest runs checkTokenDocumentForRefresh's validation
// chain: the 24h refresh ceiling, invalidated flag, client-binding, then
// the multiple-refresh idempotence-window check. Returns the decoded
// RefreshTokenStatus regardless of outcome, since the idempotence-window
// path needs it even on success.
func validateRefreshRequest(
	clk clock.Clock,
	doc *domain.TokenDocument,
	requester domain.ClientInfo,
	refreshTokenTTL time.Duration,
	checkWindow idempotenceWindowFn,
) (domain.RefreshTokenStatus, error) {
	status, ok := domain.StatusFromDocument(doc)
	if !ok {
		return domain.RefreshTokenStatus{}, domain.ErrTokenMalformed
	}

	if clk.Now().After(doc.CreationTime.Add(refreshTokenTTL)) {
		// checkTokenDocumentExpired compares against the document's
		// creation time plus the 24h refresh ceiling, not the much
		// shorter access-token expiry — a refresh token must keep working
		// long after the access token it was minted with has expired.
		return status, domain.ErrRefreshTokenExpired
	}
	if status.Invalidated {
		return status, domain.ErrRefreshInvalidGrant
	}
	if status.AssociatedUser != requester.User {
		return status, domain.ErrRefreshInvalidGrant
	}
	// An API-key-bound requester has no realm of its own to compare —
	// only USER clients carry the realm binding the original request
	// authenticated against.
	if requester.Type != domain.ClientTypeAPIKey && status.AssociatedRealm != requester.Realm {
		return status, domain.ErrRefreshInvalidGrant
	}
	if status.Refreshed {
		if status.RefreshInstant == nil {
			return status, domain.ErrRefreshInvalidGrant
		}
		if !versionAtLeast(doc.AccessToken.UserToken.MinNodeVersion, minNodeVersionModern) {
			// checkMultipleRefreshes: a pre-7.1.0-minted token has no
			// reliable idempotence window to compare against, so any
			// prior refresh fails outright rather than being replayed.
			return status, domain.ErrRefreshInvalidGrant
		}
		if err := checkWindow(clk.Now(), *status.RefreshInstant); err != nil {
			return status, err
		}
	}
	return status, nil
}
