package tokenservice

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/allisson/bearertoken/internal/store"
)

// fakeStore is a full in-memory store.Store, used by the refresh/validate/
// invalidate engine tests that need real CAS and filter semantics instead
// of sweeper_test.go's trigger-only memStore.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
	seq  map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string]map[string]any{}, seq: map[string]int64{}}
}

func (s *fakeStore) CreateDocument(ctx context.Context, id string, source []byte) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; ok {
		return 0, 0, store.ErrAlreadyExists
	}
	var doc map[string]any
	if err := json.Unmarshal(source, &doc); err != nil {
		return 0, 0, err
	}
	s.docs[id] = doc
	s.seq[id] = 1
	return 1, 1, nil
}

func (s *fakeStore) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	source, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &store.Document{ID: id, Source: source, SeqNo: s.seq[id], PrimaryTerm: 1}, nil
}

func (s *fakeStore) ConditionalUpdate(ctx context.Context, id string, partial []byte, seqNo, primaryTerm int64) (store.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok || s.seq[id] != seqNo {
		return store.Conflict, nil
	}

	var patch map[string]any
	if err := json.Unmarshal(partial, &patch); err != nil {
		return 0, err
	}
	applyPatch(doc, patch)
	s.seq[id]++
	return store.Updated, nil
}

func (s *fakeStore) BulkUpdate(ctx context.Context, ids []string, partial []byte) ([]store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var patch map[string]any
	if err := json.Unmarshal(partial, &patch); err != nil {
		return nil, err
	}

	results := make([]store.BulkResult, 0, len(ids))
	for _, id := range ids {
		doc, ok := s.docs[id]
		if !ok {
			results = append(results, store.BulkResult{ID: id, Err: store.ErrNotFound})
			continue
		}
		if patchIsNoOp(doc, patch) {
			results = append(results, store.BulkResult{ID: id, Result: store.NoOp})
			continue
		}
		applyPatch(doc, patch)
		s.seq[id]++
		results = append(results, store.BulkResult{ID: id, Result: store.Updated})
	}
	return results, nil
}

func (s *fakeStore) Search(ctx context.Context, query store.Query) (*store.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id := range s.docs {
		ids = append(ids, id)
	}
	sortStrings(ids)

	var matched []string
	for _, id := range ids {
		if docMatches(s.docs[id], query.Filters) {
			matched = append(matched, id)
		}
	}

	size := query.Size
	if size <= 0 {
		size = 1000
	}
	start := query.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	hasMore := end < len(matched)
	if end > len(matched) {
		end = len(matched)
	}

	var docs []*store.Document
	for _, id := range matched[start:end] {
		source, err := json.Marshal(s.docs[id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, &store.Document{ID: id, Source: source, SeqNo: s.seq[id], PrimaryTerm: 1})
	}

	return &store.SearchResult{Documents: docs, NextOffset: end, HasMore: hasMore}, nil
}

func docMatches(doc map[string]any, filters []store.Filter) bool {
	for _, f := range filters {
		v, ok := navigate(doc, f.Path)
		if !ok {
			return false
		}
		if toFilterValue(v) != f.Value {
			return false
		}
	}
	return true
}

func toFilterValue(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return t
	default:
		return ""
	}
}

func navigate(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// applyPatch applies a flat {"a.b.c": value} patch to doc in place,
// creating intermediate maps as needed.
func applyPatch(doc map[string]any, patch map[string]any) {
	for dottedPath, value := range patch {
		path := splitDotted(dottedPath)
		cur := doc
		for i, p := range path {
			if i == len(path)-1 {
				cur[p] = value
				break
			}
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
	}
}

func patchIsNoOp(doc map[string]any, patch map[string]any) bool {
	for dottedPath, value := range patch {
		cur, ok := navigate(doc, splitDotted(dottedPath))
		if !ok || cur != value {
			return false
		}
	}
	return true
}

func splitDotted(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j] < ss[j-1]; j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}
