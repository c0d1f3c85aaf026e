package tokenservice

import (
	"context"
	"fmt"
	"time"

	"github.com/allisson/bearertoken/internal/backoff"
	"github.com/allisson/bearertoken/internal/clock"
	"github.com/allisson/bearertoken/internal/codec"
	"github.com/allisson/bearertoken/internal/store"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// refreshEngine implements innerRefresh's state machine: validate the
// refresh-token document, then either reuse the superseding document (if
// a concurrent refresh already ran inside the idempotence window) or mark
// the original refreshed and mint a new pair. Grounded stage-by-stage on
// the Java method of the same shape; each stage gets its own
// backoff.Iterator (see DESIGN.md's Open Question resolution) instead of
// one iterator shared end to end.
type refreshEngine struct {
	repo                *repository
	clk                 clock.Clock
	boff                backoff.Config
	idempotenceWindow   time.Duration
	refreshTokenTTL     time.Duration
	mint                func(ctx context.Context, auth domain.Authentication, client domain.ClientInfo) (domain.UserToken, *domain.RefreshTokenDoc, string, error)
}

// RefreshResult is what a successful refresh hands back to the caller:
// the newly minted access token plus its refresh-token string. Bearer is
// the codec-encoded form of AccessToken.ID — the string a caller should
// actually present as the new access token, matching CreateOAuth2Tokens's
// contract that callers never see a raw document id.
type RefreshResult struct {
	AccessToken  domain.UserToken
	Bearer       string
	RefreshToken string
}

func (e *refreshEngine) checkWindow(now, refreshedAt time.Time) error {
	if now.After(refreshedAt.Add(e.idempotenceWindow)) {
		return fmt.Errorf("%w: refreshed more than %s in the past", domain.ErrRefreshInvalidGrant, e.idempotenceWindow)
	}
	if now.Before(refreshedAt.Add(-e.idempotenceWindow)) {
		return fmt.Errorf("%w: refreshed more than %s in the future, clock skew too great", domain.ErrRefreshInvalidGrant, e.idempotenceWindow)
	}
	return nil
}

// Refresh runs one refresh attempt for the document at tokenDocID, on
// behalf of requester. It loops internally on optimistic-concurrency
// Conflict (Stage C re-read-and-restart) but does not loop across the
// "already refreshed, fetch superseding doc" path's own retries — those
// are scoped to fetchSuperseding.
func (e *refreshEngine) Refresh(ctx context.Context, tokenDocID string, requester domain.ClientInfo) (*RefreshResult, error) {
	for {
		doc, seqNo, primaryTerm, err := e.repo.get(ctx, tokenDocID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, domain.ErrRefreshInvalidGrant
			}
			return nil, err
		}

		status, err := validateRefreshRequest(e.clk, doc, requester, e.refreshTokenTTL, e.checkWindow)
		if err != nil {
			return nil, err
		}

		if status.Refreshed {
			return e.fetchSuperseding(ctx, status.SupersededDocID)
		}

		result, conflict, err := e.markRefreshedAndMint(ctx, tokenDocID, doc, seqNo, primaryTerm)
		if err != nil {
			return nil, err
		}
		if conflict {
			continue // Stage C: re-read and restart from the top.
		}
		return result, nil
	}
}

// markRefreshedAndMint writes refreshed=true/refresh_time/superseded_by
// on the original document, then mints the new token pair under the new
// document id. conflict=true tells Refresh to re-read and restart.
func (e *refreshEngine) markRefreshedAndMint(
	ctx context.Context,
	tokenDocID string,
	doc *domain.TokenDocument,
	seqNo, primaryTerm int64,
) (*RefreshResult, bool, error) {
	newDocID := newDocumentID()
	now := e.clk.Now()

	partial := store.PartialDoc{
		"refresh_token.refreshed":     true,
		"refresh_token.refresh_time":  now,
		"refresh_token.superseded_by": newDocID,
	}

	result, err := e.repo.conditionalUpdate(ctx, tokenDocID, partial, seqNo, primaryTerm)
	if err != nil {
		return nil, false, err
	}
	if result == store.Conflict {
		return nil, true, nil
	}

	accessToken, refreshDoc, refreshTokenStr, err := e.mint(ctx, doc.AccessToken.UserToken.Authentication, doc.RefreshToken.Client)
	if err != nil {
		return nil, false, err
	}

	newDoc := &domain.TokenDocument{
		DocType:      domain.TokenDocType,
		CreationTime: now,
		AccessToken: domain.AccessTokenDoc{
			UserToken: accessToken,
			Realm:     doc.RefreshToken.Client.Realm,
		},
		RefreshToken: refreshDoc,
	}
	if err := e.repo.create(ctx, newDocID, newDoc); err != nil {
		return nil, false, err
	}

	return &RefreshResult{
		AccessToken:  accessToken,
		Bearer:       codec.EncodeModern(accessToken.ID),
		RefreshToken: refreshTokenStr,
	}, false, nil
}

// fetchSuperseding retrieves the document a concurrent refresh already
// created, retrying while it's not yet visible — the original's comment
// notes the creation may still be in flight a few milliseconds after the
// first refresh request returned.
func (e *refreshEngine) fetchSuperseding(ctx context.Context, supersedingDocID string) (*RefreshResult, error) {
	if err := requireTokenIDPrefix(supersedingDocID); err != nil {
		return nil, err
	}

	it := backoff.NewIterator(e.boff)
	for {
		doc, _, _, err := e.repo.get(ctx, supersedingDocID)
		if err == nil {
			if err := requireTokenIDPrefix(doc.AccessToken.UserToken.ID); err != nil {
				return nil, err
			}
			return &RefreshResult{
				AccessToken:  doc.AccessToken.UserToken,
				Bearer:       codec.EncodeModern(doc.AccessToken.UserToken.ID),
				RefreshToken: doc.RefreshToken.Token,
			}, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}

		wait, ok := it.Next()
		if !ok {
			return nil, fmt.Errorf("%w: could not refresh the requested token", domain.ErrRefreshInvalidGrant)
		}
		if err := sleepFor(ctx, wait); err != nil {
			return nil, err
		}
	}
}
