package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/allisson/bearertoken/internal/database"
)

// postgresStore backs Store with a single JSONB column table, gating
// ConditionalUpdate on an integer seq_no column the way a real document
// index gates on its internal sequence number. Grounded on
// internal/auth/repository/postgresql_token_repository.go's use of
// database.GetTx for transaction-scoped querying.
type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db as a Store backed by the "token_documents"
// table (id TEXT PRIMARY KEY, source JSONB NOT NULL, seq_no BIGINT NOT
// NULL DEFAULT 0).
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

const postgresPrimaryTerm = 1 // single-node store; see DESIGN.md Open Question resolution.

func (s *postgresStore) CreateDocument(ctx context.Context, id string, source []byte) (int64, int64, error) {
	querier := database.GetTx(ctx, s.db)

	const query = `INSERT INTO token_documents (id, source, seq_no) VALUES ($1, $2, 0)
	               ON CONFLICT (id) DO NOTHING`
	res, err := querier.ExecContext(ctx, query, id, source)
	if err != nil {
		return 0, 0, Retryable(fmt.Errorf("store: create document: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("store: create document rows affected: %w", err)
	}
	if affected == 0 {
		return 0, 0, ErrAlreadyExists
	}
	return 0, postgresPrimaryTerm, nil
}

func (s *postgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	querier := database.GetTx(ctx, s.db)

	const query = `SELECT id, source, seq_no FROM token_documents WHERE id = $1`
	var doc Document
	err := querier.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.Source, &doc.SeqNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, Retryable(fmt.Errorf("store: get document: %w", err))
	}
	doc.PrimaryTerm = postgresPrimaryTerm
	return &doc, nil
}

func (s *postgresStore) ConditionalUpdate(
	ctx context.Context,
	id string,
	partial []byte,
	seqNo, primaryTerm int64,
) (UpdateResult, error) {
	assignments, err := decodePartial(partial)
	if err != nil {
		return 0, fmt.Errorf("store: decode partial: %w", err)
	}

	expr, args := buildJSONBSetExpr(assignments)
	querier := database.GetTx(ctx, s.db)

	query := fmt.Sprintf(
		`UPDATE token_documents SET source = %s, seq_no = seq_no + 1
		 WHERE id = $%d AND seq_no = $%d`,
		expr, len(args)+1, len(args)+2,
	)
	args = append(args, id, seqNo)

	res, err := querier.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, Retryable(fmt.Errorf("store: conditional update: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: conditional update rows affected: %w", err)
	}
	if affected == 0 {
		// No row matched id and seq_no together. A missing row and a
		// seq_no mismatch are not told apart: both are reported as
		// Conflict, and the caller's re-read-and-restart path at Stage C
		// handles both.
		return Conflict, nil
	}
	return Updated, nil
}

func (s *postgresStore) BulkUpdate(ctx context.Context, ids []string, partial []byte) ([]BulkResult, error) {
	assignments, err := decodePartial(partial)
	if err != nil {
		return nil, fmt.Errorf("store: decode partial: %w", err)
	}
	expr, args := buildJSONBSetExpr(assignments)

	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		querier := database.GetTx(ctx, s.db)

		var source []byte
		err := querier.QueryRowContext(ctx, `SELECT source FROM token_documents WHERE id = $1`, id).Scan(&source)
		if errors.Is(err, sql.ErrNoRows) {
			results = append(results, BulkResult{ID: id, Err: fmt.Errorf("store: bulk update %q: %w", id, ErrNotFound)})
			continue
		}
		if err != nil {
			results = append(results, BulkResult{ID: id, Err: Retryable(err)})
			continue
		}
		if assignmentsAlreadyApplied(source, assignments) {
			// Already holds; don't bump seq_no for a no-change write —
			// re-invalidating an already-invalidated document must report
			// NoOp, not Updated.
			results = append(results, BulkResult{ID: id, Result: NoOp})
			continue
		}

		query := fmt.Sprintf(
			`UPDATE token_documents SET source = %s, seq_no = seq_no + 1 WHERE id = $%d`,
			expr, len(args)+1,
		)
		queryArgs := append(append([]any{}, args...), id)

		res, err := querier.ExecContext(ctx, query, queryArgs...)
		if err != nil {
			if isShardUnavailable(err) {
				results = append(results, BulkResult{ID: id, Err: Retryable(err)})
				continue
			}
			results = append(results, BulkResult{ID: id, Err: err})
			continue
		}
		if _, err := res.RowsAffected(); err != nil {
			results = append(results, BulkResult{ID: id, Err: err})
			continue
		}
		results = append(results, BulkResult{ID: id, Result: Updated})
	}
	return results, nil
}

func (s *postgresStore) Search(ctx context.Context, query Query) (*SearchResult, error) {
	size := query.Size
	if size <= 0 {
		size = 1000
	}

	var where strings.Builder
	args := make([]any, 0, len(query.Filters)+2)
	for i, f := range query.Filters {
		if i > 0 {
			where.WriteString(" AND ")
		} else {
			where.WriteString("WHERE ")
		}
		path := make([]string, len(f.Path))
		for j, p := range f.Path {
			path[j] = p
		}
		args = append(args, pq.Array(path), f.Value)
		fmt.Fprintf(&where, "source #>> $%d = $%d", len(args)-1, len(args))
	}

	args = append(args, size+1, query.Offset)
	sqlText := fmt.Sprintf(
		`SELECT id, source, seq_no FROM token_documents %s ORDER BY id LIMIT $%d OFFSET $%d`,
		where.String(), len(args)-1, len(args),
	)

	querier := database.GetTx(ctx, s.db)
	rows, err := querier.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, Retryable(fmt.Errorf("store: search: %w", err))
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Source, &doc.SeqNo); err != nil {
			return nil, fmt.Errorf("store: search scan: %w", err)
		}
		doc.PrimaryTerm = postgresPrimaryTerm
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, Retryable(fmt.Errorf("store: search rows: %w", err))
	}

	hasMore := len(docs) > size
	if hasMore {
		docs = docs[:size]
	}
	return &SearchResult{Documents: docs, NextOffset: query.Offset + len(docs), HasMore: hasMore}, nil
}

// buildJSONBSetExpr chains jsonb_set calls, one per assignment, starting
// from the bare "source" column. Placeholder numbering starts at $1;
// callers append their own trailing placeholders (id, seq_no) after this
// expression's args.
func buildJSONBSetExpr(assignments []pathAssignment) (string, []any) {
	expr := "source"
	args := make([]any, 0, len(assignments)*2)
	for _, a := range assignments {
		args = append(args, pq.Array(a.path), string(a.value))
		expr = fmt.Sprintf("jsonb_set(%s, $%d, $%d::jsonb, true)", expr, len(args)-1, len(args))
	}
	return expr, args
}

// isShardUnavailable classifies a driver error as the Postgres analog of
// "shard not available": connection-level failures the retry policy
// should retry rather than surface as a hard error.
func isShardUnavailable(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded)
}
