package activity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store is the interface for reading and writing activity entries.
type Store interface {
	// WriteEntries writes one or more activity entries.
	WriteEntries(ctx context.Context, entries []Entry) error

	// Query returns the entries of one session or estimate, newest first.
	Query(ctx context.Context, subject Subject, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)

	// Search performs a substring search across summaries.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []Entry, totalCount int, err error)
}

// SQLStore implements Store on a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateTable creates the activity_entries table and its indexes.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activity_entries (
			event_id     TEXT PRIMARY KEY,
			event_type   TEXT NOT NULL,
			occurred_at  TIMESTAMP NOT NULL,
			session_id   TEXT NOT NULL DEFAULT '',
			estimate_id  TEXT NOT NULL DEFAULT '',
			summary      TEXT NOT NULL,
			category     TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			payload      BLOB
		);

		CREATE INDEX IF NOT EXISTS idx_activity_session_time
			ON activity_entries (session_id, occurred_at DESC);

		CREATE INDEX IF NOT EXISTS idx_activity_estimate_time
			ON activity_entries (estimate_id, occurred_at DESC);
	`)
	return err
}

// WriteEntries inserts activity entries. Entries already present are skipped.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO activity_entries (
		event_id, event_type, occurred_at, session_id, estimate_id,
		summary, category, outcome, payload
	) VALUES `)

	args := make([]any, 0, len(entries)*9)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.EventID, e.EventType, e.OccurredAt.UTC(), e.SessionID, e.EstimateID,
			e.Summary, e.Category, e.Outcome, []byte(e.Payload),
		)
	}

	b.WriteString(" ON CONFLICT DO NOTHING")
	_, err := s.db.ExecContext(ctx, b.String(), args...)
	return err
}

// Query returns entries for a subject with filtering and pagination.
func (s *SQLStore) Query(ctx context.Context, subject Subject, opts QueryOptions) ([]Entry, string, int, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 100
	}

	conditions := []string{subject.column() + " = ?"}
	args := []any{subject.ID}

	if opts.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, opts.Since.UTC())
	}
	if opts.Until != nil {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, opts.Until.UTC())
	}
	if len(opts.Categories) > 0 {
		conditions = append(conditions, "category IN ("+placeholders(len(opts.Categories))+")")
		for _, c := range opts.Categories {
			args = append(args, c)
		}
	}

	// Total ignores the cursor.
	where := strings.Join(conditions, " AND ")
	var totalCount int
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_entries WHERE "+where, args...).Scan(&totalCount)

	if opts.Cursor != "" {
		// Cursor is the occurred_at timestamp of the last result.
		if cursorTime, err := time.Parse(time.RFC3339Nano, opts.Cursor); err == nil {
			where += " AND occurred_at < ?"
			args = append(args, cursorTime.UTC())
		}
	}

	entries, err := s.scan(ctx, where, args, opts.Limit+1) // one extra for the cursor
	if err != nil {
		return nil, "", 0, err
	}

	var nextCursor string
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
		nextCursor = entries[len(entries)-1].OccurredAt.Format(time.RFC3339Nano)
	}
	return entries, nextCursor, totalCount, nil
}

// Search performs a substring search across summaries.
func (s *SQLStore) Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	conditions := []string{"summary LIKE '%' || ? || '%'"}
	args := []any{query}
	if opts.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, opts.Since.UTC())
	}
	if len(opts.Categories) > 0 {
		conditions = append(conditions, "category IN ("+placeholders(len(opts.Categories))+")")
		for _, c := range opts.Categories {
			args = append(args, c)
		}
	}

	where := strings.Join(conditions, " AND ")
	var totalCount int
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_entries WHERE "+where, args...).Scan(&totalCount)

	entries, err := s.scan(ctx, where, args, opts.Limit)
	if err != nil {
		return nil, 0, err
	}
	return entries, totalCount, nil
}

func (s *SQLStore) scan(ctx context.Context, where string, args []any, limit int) ([]Entry, error) {
	q := fmt.Sprintf(
		`SELECT event_id, event_type, occurred_at, session_id, estimate_id,
			summary, category, outcome, payload
		FROM activity_entries
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("querying activity entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(
			&e.EventID, &e.EventType, &e.OccurredAt, &e.SessionID, &e.EstimateID,
			&e.Summary, &e.Category, &e.Outcome, &payload,
		); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
