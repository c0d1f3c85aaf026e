package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/allisson/bearertoken/internal/database"
)

// mysqlStore is the MySQL analog of postgresStore: same table shape, same
// seq_no CAS column, JSON_SET chains instead of jsonb_set chains.
type mysqlStore struct {
	db *sql.DB
}

// NewMySQLStore wraps db as a Store backed by the "token_documents" table
// (id VARCHAR(255) PRIMARY KEY, source JSON NOT NULL, seq_no BIGINT NOT
// NULL DEFAULT 0).
func NewMySQLStore(db *sql.DB) Store {
	return &mysqlStore{db: db}
}

const mysqlPrimaryTerm = 1 // single-node store; see postgresPrimaryTerm.

func (s *mysqlStore) CreateDocument(ctx context.Context, id string, source []byte) (int64, int64, error) {
	querier := database.GetTx(ctx, s.db)

	const query = `INSERT IGNORE INTO token_documents (id, source, seq_no) VALUES (?, ?, 0)`
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
	return 0, mysqlPrimaryTerm, nil
}

func (s *mysqlStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	querier := database.GetTx(ctx, s.db)

	const query = `SELECT id, source, seq_no FROM token_documents WHERE id = ?`
	var doc Document
	err := querier.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.Source, &doc.SeqNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, Retryable(fmt.Errorf("store: get document: %w", err))
	}
	doc.PrimaryTerm = mysqlPrimaryTerm
	return &doc, nil
}

func (s *mysqlStore) ConditionalUpdate(
	ctx context.Context,
	id string,
	partial []byte,
	seqNo, primaryTerm int64,
) (UpdateResult, error) {
	assignments, err := decodePartial(partial)
	if err != nil {
		return 0, fmt.Errorf("store: decode partial: %w", err)
	}

	expr, args := buildJSONSetExpr(assignments)
	querier := database.GetTx(ctx, s.db)

	query := fmt.Sprintf(
		`UPDATE token_documents SET source = %s, seq_no = seq_no + 1 WHERE id = ? AND seq_no = ?`,
		expr,
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
		return Conflict, nil
	}
	return Updated, nil
}

func (s *mysqlStore) BulkUpdate(ctx context.Context, ids []string, partial []byte) ([]BulkResult, error) {
	assignments, err := decodePartial(partial)
	if err != nil {
		return nil, fmt.Errorf("store: decode partial: %w", err)
	}
	expr, args := buildJSONSetExpr(assignments)

	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		querier := database.GetTx(ctx, s.db)

		var source []byte
		err := querier.QueryRowContext(ctx, `SELECT source FROM token_documents WHERE id = ?`, id).Scan(&source)
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
			`UPDATE token_documents SET source = %s, seq_no = seq_no + 1 WHERE id = ?`,
			expr,
		)
		queryArgs := append(append([]any{}, args...), id)

		res, err := querier.ExecContext(ctx, query, queryArgs...)
		if err != nil {
			if isLockWaitTimeout(err) {
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

func (s *mysqlStore) Search(ctx context.Context, query Query) (*SearchResult, error) {
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
		where.WriteString("JSON_UNQUOTE(JSON_EXTRACT(source, ?)) = ?")
		args = append(args, jsonPathExpr(f.Path), f.Value)
	}

	args = append(args, size+1, query.Offset)
	sqlText := fmt.Sprintf(
		`SELECT id, source, seq_no FROM token_documents %s ORDER BY id LIMIT ? OFFSET ?`,
		where.String(),
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
		doc.PrimaryTerm = mysqlPrimaryTerm
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

// buildJSONSetExpr chains JSON_SET calls, one per assignment, starting
// from the bare "source" column.
func buildJSONSetExpr(assignments []pathAssignment) (string, []any) {
	expr := "source"
	args := make([]any, 0, len(assignments)*2)
	for _, a := range assignments {
		args = append(args, jsonPathExpr(a.path), rawJSON(a.value))
		expr = fmt.Sprintf("JSON_SET(%s, ?, CAST(? AS JSON))", expr)
	}
	return expr, args
}

// jsonPathExpr renders a dotted path as a MySQL JSON path expression,
// e.g. []string{"access_token","invalidated"} -> "$.access_token.invalidated".
func jsonPathExpr(path []string) string {
	return "$." + strings.Join(path, ".")
}

// rawJSON marshals a pre-encoded JSON value back to a string so it can be
// passed as a driver arg for CAST(? AS JSON).
func rawJSON(b []byte) string {
	return string(b)
}

// isLockWaitTimeout classifies a driver error as retryable contention,
// the MySQL analog of "shard not available" for a single-node store.
func isLockWaitTimeout(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1205: ER_LOCK_WAIT_TIMEOUT, 1213: ER_LOCK_DEADLOCK.
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded)
}
