package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLiteLike implements Searcher with LIKE matching against the records
// table. It is the fallback when Meilisearch is not configured or down.
type SQLiteLike struct {
	db *sql.DB
}

// NewSQLiteLike creates the SQLite fallback searcher.
func NewSQLiteLike(db *sql.DB) *SQLiteLike {
	return &SQLiteLike{db: db}
}

// Healthy always returns true. If SQLite is down, the whole app is down.
func (s *SQLiteLike) Healthy() bool {
	return true
}

// Search matches the query text against title, business problem, description,
// and the serialized tag lists.
func (s *SQLiteLike) Search(q Query) ([]Result, int, error) {
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

	pattern := "%" + escapeLike(q.Text) + "%"
	where := `(title LIKE ? ESCAPE '\'
		OR business_problem LIKE ? ESCAPE '\'
		OR description LIKE ? ESCAPE '\'
		OR framework_tags LIKE ? ESCAPE '\'
		OR capability_groups LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern, pattern, pattern, pattern}
	if q.FilterStatus != "" {
		where += " AND status = ?"
		args = append(args, q.FilterStatus)
	}

	ctx := context.Background()

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite search count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, business_problem, status, created_by
		FROM records
		WHERE %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.CreatedBy); err != nil {
			return nil, 0, fmt.Errorf("sqlite search scan: %w", err)
		}
		r.Snippet = truncate(r.Snippet, 200)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all records for full reindexing.
func (s *SQLiteLike) LoadAllRecords(ctx context.Context) ([]RecordDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, business_problem, description, framework_tags, capability_groups, status, created_by
		FROM records
	`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	docs := make([]RecordDoc, 0)
	for rows.Next() {
		var d RecordDoc
		var tags, groups string
		if err := rows.Scan(&d.ID, &d.Title, &d.BusinessProblem, &d.Description, &tags, &groups, &d.Status, &d.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &d.FrameworkTags); err != nil {
			return nil, fmt.Errorf("decode framework tags: %w", err)
		}
		if err := json.Unmarshal([]byte(groups), &d.CapabilityGroups); err != nil {
			return nil, fmt.Errorf("decode capability groups: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return docs, nil
}

func escapeLike(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(text)
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
