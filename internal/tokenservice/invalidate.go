package tokenservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/allisson/bearertoken/internal/backoff"
	"github.com/allisson/bearertoken/internal/store"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// InvalidationResult reports which of the requested tokens were actually
// invalidated versus already invalidated, by id, mirroring
// TokensInvalidationResult's invalidated[]/previouslyInvalidated[] shape.
type InvalidationResult struct {
	Invalidated           []string
	PreviouslyInvalidated []string
	Errors                []error
}

// invalidationEngine implements indexInvalidation's bulk-update-with-retry
// loop, grounded on the Java method of the same name: one BulkUpdate per
// call, retrying only the ids whose update failed with a retryable error,
// accumulating errors across retries with go-multierror rather than
// letting one bad id fail the whole batch.
type invalidationEngine struct {
	repo *repository
	boff backoff.Config
}

// invalidateField marks srcPrefix.invalidated=true on every document in
// tokenIDs, retrying only the ids that failed with a retryable error.
func (e *invalidationEngine) invalidateField(ctx context.Context, tokenIDs []string, srcPrefix string) (*InvalidationResult, error) {
	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("%w: no tokens provided for invalidation", domain.ErrRefreshInvalidGrant)
	}

	partial := store.PartialDoc{srcPrefix + ".invalidated": true}
	result := &InvalidationResult{}

	remaining := tokenIDs
	it := backoff.NewIterator(e.boff)
	for {
		results, err := e.repo.bulkUpdate(ctx, remaining, partial)
		if err != nil {
			return result, err
		}

		var retry []string
		var batchErrs *multierror.Error
		for _, r := range results {
			switch {
			case r.Err != nil:
				var retryable backoff.Retryable
				if errors.As(r.Err, &retryable) && retryable.Retryable() {
					retry = append(retry, r.ID)
					continue
				}
				batchErrs = multierror.Append(batchErrs, fmt.Errorf("token %s: %w", r.ID, r.Err))
			case r.Result == store.Updated:
				result.Invalidated = append(result.Invalidated, r.ID)
			case r.Result == store.NoOp:
				result.PreviouslyInvalidated = append(result.PreviouslyInvalidated, r.ID)
			}
		}
		if batchErrs != nil {
			result.Errors = append(result.Errors, batchErrs.Errors...)
		}

		if len(retry) == 0 {
			return result, nil
		}

		wait, ok := it.Next()
		if !ok {
			for _, id := range retry {
				result.Errors = append(result.Errors, fmt.Errorf("token %s: %w", id, backoff.ErrExhausted))
			}
			return result, nil
		}
		if err := sleepFor(ctx, wait); err != nil {
			return result, err
		}
		remaining = retry
	}
}

// sleepFor blocks for d or returns ctx's error if it's cancelled first.
func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// InvalidateAccessToken invalidates one access token document.
func (e *invalidationEngine) InvalidateAccessToken(ctx context.Context, tokenID string) (*InvalidationResult, error) {
	return e.invalidateField(ctx, []string{tokenID}, "access_token")
}

// InvalidateRefreshToken invalidates one refresh token document.
func (e *invalidationEngine) InvalidateRefreshToken(ctx context.Context, tokenID string) (*InvalidationResult, error) {
	return e.invalidateField(ctx, []string{tokenID}, "refresh_token")
}

// InvalidateAllTokens invalidates both the refresh and access token
// fields for every id in tokenIDs — refresh tokens first, so a
// concurrent refresh cannot mint a fresh access token while the access
// tokens we already know about are still being invalidated.
func (e *invalidationEngine) InvalidateAllTokens(ctx context.Context, tokenIDs []string) (*InvalidationResult, error) {
	refreshResult, err := e.invalidateField(ctx, tokenIDs, "refresh_token")
	if err != nil {
		return nil, err
	}
	accessResult, err := e.invalidateField(ctx, tokenIDs, "access_token")
	if err != nil {
		return refreshResult, err
	}
	return &InvalidationResult{
		Invalidated:           append(refreshResult.Invalidated, accessResult.Invalidated...),
		PreviouslyInvalidated: append(refreshResult.PreviouslyInvalidated, accessResult.PreviouslyInvalidated...),
		Errors:                append(refreshResult.Errors, accessResult.Errors...),
	}, nil
}
