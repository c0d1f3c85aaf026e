package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/bearertoken/internal/testutil"
)

func TestMySQLStore_CreateAndGetDocument(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()
	source := []byte(`{"doc_type":"token","access_token":{"invalidated":false}}`)

	_, _, err := s.CreateDocument(ctx, "doc-1", source)
	require.NoError(t, err)

	doc, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, int64(0), doc.SeqNo)
	assert.JSONEq(t, string(source), string(doc.Source))
}

func TestMySQLStore_CreateDocument_AlreadyExists(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()
	source := []byte(`{"doc_type":"token"}`)

	_, _, err := s.CreateDocument(ctx, "doc-dup", source)
	require.NoError(t, err)

	_, _, err = s.CreateDocument(ctx, "doc-dup", source)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMySQLStore_GetDocument_NotFound(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	_, err := s.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLStore_ConditionalUpdate(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()
	source := []byte(`{"doc_type":"token","access_token":{"invalidated":false}}`)

	seqNo, primaryTerm, err := s.CreateDocument(ctx, "doc-cas", source)
	require.NoError(t, err)

	partial, err := PartialDoc{"access_token.invalidated": true}.Encode()
	require.NoError(t, err)

	result, err := s.ConditionalUpdate(ctx, "doc-cas", partial, seqNo, primaryTerm)
	require.NoError(t, err)
	assert.Equal(t, Updated, result)

	doc, err := s.GetDocument(ctx, "doc-cas")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(doc.Source, &decoded))
	assert.Equal(t, true, decoded["access_token"].(map[string]any)["invalidated"])
	assert.Equal(t, int64(1), doc.SeqNo)
}

func TestMySQLStore_ConditionalUpdate_Conflict(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()
	source := []byte(`{"doc_type":"token"}`)

	_, _, err := s.CreateDocument(ctx, "doc-conflict", source)
	require.NoError(t, err)

	partial, err := PartialDoc{"access_token.invalidated": true}.Encode()
	require.NoError(t, err)

	result, err := s.ConditionalUpdate(ctx, "doc-conflict", partial, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, Conflict, result)
}

func TestMySQLStore_BulkUpdate(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, "bulk-1", []byte(`{"access_token":{"invalidated":false}}`))
	require.NoError(t, err)
	_, _, err = s.CreateDocument(ctx, "bulk-2", []byte(`{"access_token":{"invalidated":true}}`))
	require.NoError(t, err)

	partial, err := PartialDoc{"access_token.invalidated": true}.Encode()
	require.NoError(t, err)

	results, err := s.BulkUpdate(ctx, []string{"bulk-1", "bulk-2", "missing"}, partial)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[string]BulkResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.Equal(t, Updated, byID["bulk-1"].Result)
	assert.Equal(t, NoOp, byID["bulk-2"].Result, "already invalidated, so the patch changes nothing")
	assert.ErrorIs(t, byID["missing"].Err, ErrNotFound, "a missing id is an error, not a silent no-op")
}

func TestMySQLStore_Search(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, "search-1", []byte(`{"access_token":{"realm":"r1","invalidated":false}}`))
	require.NoError(t, err)
	_, _, err = s.CreateDocument(ctx, "search-2", []byte(`{"access_token":{"realm":"r2","invalidated":false}}`))
	require.NoError(t, err)

	result, err := s.Search(ctx, Query{
		Filters: []Filter{{Path: []string{"access_token", "realm"}, Value: "r1"}},
		Size:    1000,
	})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "search-1", result.Documents[0].ID)
	assert.False(t, result.HasMore)
}

func TestMySQLStore_Search_Pagination(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	s := NewMySQLStore(db)
	ctx := context.Background()

	for _, id := range []string{"page-a", "page-b", "page-c"} {
		_, _, err := s.CreateDocument(ctx, id, []byte(`{"access_token":{"realm":"paged"}}`))
		require.NoError(t, err)
	}

	first, err := s.Search(ctx, Query{
		Filters: []Filter{{Path: []string{"access_token", "realm"}, Value: "paged"}},
		Size:    2,
	})
	require.NoError(t, err)
	assert.Len(t, first.Documents, 2)
	assert.True(t, first.HasMore)

	second, err := s.Search(ctx, Query{
		Filters: []Filter{{Path: []string{"access_token", "realm"}, Value: "paged"}},
		Size:    2,
		Offset:  first.NextOffset,
	})
	require.NoError(t, err)
	assert.Len(t, second.Documents, 1)
	assert.False(t, second.HasMore)
}
