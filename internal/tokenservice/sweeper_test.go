package tokenservice

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/allisson/bearertoken/internal/clock"
	"github.com/allisson/bearertoken/internal/store"
)

// memStore is a minimal in-memory store.Store, enough to drive the
// sweeper-trigger tests without a real PostgreSQL/MySQL backend.
type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	seq  int64
}

func newMemStore() *memStore {
	return &memStore{docs: map[string][]byte{}}
}

func (m *memStore) CreateDocument(ctx context.Context, id string, source []byte) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; ok {
		return 0, 0, store.ErrAlreadyExists
	}
	m.seq++
	m.docs[id] = source
	return m.seq, 0, nil
}

func (m *memStore) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Document{ID: id, Source: src, SeqNo: m.seq}, nil
}

func (m *memStore) ConditionalUpdate(ctx context.Context, id string, partial []byte, seqNo, primaryTerm int64) (store.UpdateResult, error) {
	return store.NoOp, nil
}

func (m *memStore) BulkUpdate(ctx context.Context, ids []string, partial []byte) ([]store.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var patch map[string]any
	if err := json.Unmarshal(partial, &patch); err != nil {
		return nil, err
	}

	results := make([]store.BulkResult, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.docs[id]; !ok {
			results = append(results, store.BulkResult{ID: id, Err: store.ErrNotFound})
			continue
		}
		results = append(results, store.BulkResult{ID: id, Result: store.Updated})
	}
	return results, nil
}

func (m *memStore) Search(ctx context.Context, query store.Query) (*store.SearchResult, error) {
	return &store.SearchResult{}, nil
}

func TestMaybeStartExpiredTokenRemover_DebouncesWithinInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var mu sync.Mutex
	var runs int
	done := make(chan struct{}, 8)

	cfg := DefaultConfig()
	cfg.DeleteInterval = time.Minute
	cfg.ExpiredTokenRemover = func(ctx context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
		done <- struct{}{}
	}

	svc := New(cfg, fc, newMemStore(), nil)

	svc.maybeStartExpiredTokenRemover()
	svc.maybeStartExpiredTokenRemover()
	svc.maybeStartExpiredTokenRemover()
	<-done

	mu.Lock()
	got := runs
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly one sweeper run within the interval, got %d", got)
	}

	fc.Advance(time.Minute)
	svc.maybeStartExpiredTokenRemover()
	<-done

	mu.Lock()
	got = runs
	mu.Unlock()
	if got != 2 {
		t.Fatalf("expected a second sweeper run after DeleteInterval elapsed, got %d", got)
	}
}

func TestMaybeStartExpiredTokenRemover_DisabledWhenIntervalIsZero(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := clock.NewFake(time.Now())
	cfg := DefaultConfig()
	cfg.DeleteInterval = 0
	cfg.ExpiredTokenRemover = func(ctx context.Context) {
		t.Fatal("remover must not run when DeleteInterval is 0")
	}

	svc := New(cfg, fc, newMemStore(), nil)
	svc.maybeStartExpiredTokenRemover()
	svc.maybeStartExpiredTokenRemover()
}
