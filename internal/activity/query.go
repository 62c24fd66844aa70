// Package activity stores the audit trail of estimate lifecycle events so
// support staff can see what happened to a session or an estimate.
package activity

import (
	"encoding/json"
	"time"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	SessionID  string          `json:"session_id,omitempty"`
	EstimateID string          `json:"estimate_id,omitempty"`
	Summary    string          `json:"summary"`
	Category   string          `json:"category"`
	Outcome    string          `json:"outcome"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Subject selects whose entries a query returns.
type Subject struct {
	Kind string // "session" or "estimate"
	ID   string
}

// Subject kinds.
const (
	SubjectSession  = "session"
	SubjectEstimate = "estimate"
)

func (s Subject) column() string {
	if s.Kind == SubjectSession {
		return "session_id"
	}
	return "estimate_id"
}

func (s Subject) matches(e Entry) bool {
	if s.Kind == SubjectSession {
		return e.SessionID == s.ID
	}
	return e.EstimateID == s.ID
}

// QueryOptions controls filtering and pagination for subject queries.
type QueryOptions struct {
	Since      *time.Time // default: 30 days ago
	Until      *time.Time // default: now
	Categories []string   // filter to specific categories
	Limit      int        // max results (default: 100, max: 500)
	Cursor     string     // cursor for pagination
}

// SearchOptions controls filtering for summary search.
type SearchOptions struct {
	Since      *time.Time
	Categories []string
	Limit      int // max results (default: 20)
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	monthAgo := time.Now().AddDate(0, 0, -30)
	now := time.Now()
	return QueryOptions{
		Since: &monthAgo,
		Until: &now,
		Limit: 100,
	}
}

// DefaultSearchOptions returns SearchOptions with sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit: 20,
	}
}

func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
