package tokenservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/allisson/bearertoken/internal/backoff"
	apperrors "github.com/allisson/bearertoken/internal/errors"
	"github.com/allisson/bearertoken/internal/store"
	"github.com/allisson/bearertoken/internal/tokenservice/domain"
)

// repository wraps internal/store.Store with the retry-on-transient-error
// policy every read/write in the token service needs, mirroring how
// internal/auth/repository's PostgreSQL/MySQL repositories are themselves
// thin wrappers with one apperrors.Wrap per call site — here the wrapping
// is retry instead of a bare error message, since store errors carry
// their own Retryable() signal.
type repository struct {
	store store.Store
	boff  backoff.Config
}

func newRepository(s store.Store, boff backoff.Config) *repository {
	return &repository{store: s, boff: boff}
}

func (r *repository) create(ctx context.Context, id string, doc *domain.TokenDocument) error {
	source, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tokenservice: encode document: %w", err)
	}

	it := backoff.NewIterator(r.boff)
	_, err = backoff.Retry(ctx, it, func() (any, error) {
		_, _, err := r.store.CreateDocument(ctx, id, source)
		return nil, err
	})
	if err != nil {
		if err == store.ErrAlreadyExists {
			return apperrors.Wrap(err, "tokenservice: document id collision")
		}
		return fmt.Errorf("tokenservice: create document: %w", err)
	}
	return nil
}

// get fetches and decodes a document, returning its seq_no/primary_term
// alongside it so the caller can gate a follow-up ConditionalUpdate.
func (r *repository) get(ctx context.Context, id string) (*domain.TokenDocument, int64, int64, error) {
	it := backoff.NewIterator(r.boff)
	doc, err := backoff.Retry(ctx, it, func() (*store.Document, error) {
		return r.store.GetDocument(ctx, id)
	})
	if err != nil {
		if err == store.ErrNotFound {
			return nil, 0, 0, err
		}
		return nil, 0, 0, fmt.Errorf("tokenservice: get document: %w", err)
	}

	var out domain.TokenDocument
	if err := json.Unmarshal(doc.Source, &out); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", apperrors.ErrMalformed, err)
	}
	return &out, doc.SeqNo, doc.PrimaryTerm, nil
}

// conditionalUpdate applies partial at (seqNo, primaryTerm), retrying
// only on transient store errors — a Conflict result is returned to the
// caller untouched since the refresh/invalidation state machines decide
// for themselves whether to re-read and restart.
func (r *repository) conditionalUpdate(
	ctx context.Context,
	id string,
	partial store.PartialDoc,
	seqNo, primaryTerm int64,
) (store.UpdateResult, error) {
	encoded, err := partial.Encode()
	if err != nil {
		return 0, fmt.Errorf("tokenservice: encode partial update: %w", err)
	}

	it := backoff.NewIterator(r.boff)
	return backoff.Retry(ctx, it, func() (store.UpdateResult, error) {
		return r.store.ConditionalUpdate(ctx, id, encoded, seqNo, primaryTerm)
	})
}

// bulkUpdate applies partial to every id in ids unconditionally, used by
// the invalidation engine's realm/user-scoped bulk paths.
func (r *repository) bulkUpdate(ctx context.Context, ids []string, partial store.PartialDoc) ([]store.BulkResult, error) {
	encoded, err := partial.Encode()
	if err != nil {
		return nil, fmt.Errorf("tokenservice: encode partial update: %w", err)
	}

	it := backoff.NewIterator(r.boff)
	return backoff.Retry(ctx, it, func() ([]store.BulkResult, error) {
		return r.store.BulkUpdate(ctx, ids, encoded)
	})
}

func (r *repository) search(ctx context.Context, query store.Query) (*store.SearchResult, error) {
	it := backoff.NewIterator(r.boff)
	return backoff.Retry(ctx, it, func() (*store.SearchResult, error) {
		return r.store.Search(ctx, query)
	})
}
