package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches against the current revision of each document using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Document
// codes are matched by substring since tsvector splits them oddly.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := fmt.Sprintf("d.deleted_at IS NULL AND (r.fts @@ %s OR d.code ILIKE '%%' || $1 || '%%')", tsQuery)
	if q.FilterStatus != "" {
		where += fmt.Sprintf(" AND r.status = $%d", argN)
		args = append(args, q.FilterStatus)
		argN++
	}
	if q.FilterDocType != "" {
		where += fmt.Sprintf(" AND r.doc_type = $%d", argN)
		args = append(args, q.FilterDocType)
		argN++
	}
	if q.FilterDepartmentID != "" {
		where += fmt.Sprintf(" AND r.department_id = $%d", argN)
		args = append(args, q.FilterDepartmentID)
		argN++
	}

	baseSQL := fmt.Sprintf(`
		FROM documents d
		JOIN document_revisions r ON r.id = d.current_revision_id
		WHERE %s`, where)

	var total int
	ctx := context.Background()
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) "+baseSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.code, r.title,
			ts_headline('english', coalesce(r.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			r.doc_type, r.status, r.id
		%s
		ORDER BY ts_rank(r.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, baseSQL, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Code, &r.Title, &r.Snippet, &r.DocType, &r.Status, &r.RevisionID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable documents for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.code, r.title, r.description, r.doc_type, r.status,
			coalesce(r.department_id, ''), r.id
		FROM documents d
		JOIN document_revisions r ON r.id = d.current_revision_id
		WHERE d.deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.Code, &d.Title, &d.Description, &d.DocType, &d.Status, &d.DepartmentID, &d.RevisionID); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return documents, nil
}
