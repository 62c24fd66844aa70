package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/storage"
)

// Storage keys.
const (
	KeyFormData          = "estimateFormData"
	KeyVisitedPages      = "visitedPages"
	KeyReturningFromEdit = "returningFromConfirmation"
)

// Page paths recorded in the visit history.
const (
	PathEntry        = "/estimate"
	PathConfirmation = "/estimate/confirmation"
)

const (
	maxVisits       = 10
	roundTripWindow = 5 * time.Minute
)

// Storage is the session-scoped key-value port. storage.Scoped satisfies it.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Visit is one entry of the page history.
type Visit struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// Tracker records recently visited pages and the one-shot flag that makes the
// next entry visit restore silently.
type Tracker struct {
	storage Storage
	now     func() time.Time
	logger  *zap.Logger
}

// NewTracker creates a Tracker. A nil clock uses time.Now.
func NewTracker(st Storage, now func() time.Time, logger *zap.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{storage: st, now: now, logger: logger}
}

// History returns the stored visits, oldest first. Unreadable history reads
// as empty.
func (t *Tracker) History(ctx context.Context) []Visit {
	raw, err := t.storage.Get(ctx, KeyVisitedPages)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("reading page history", zap.Error(err))
		}
		return nil
	}
	var visits []Visit
	if err := json.Unmarshal(raw, &visits); err != nil {
		t.logger.Warn("discarding malformed page history", zap.Error(err))
		return nil
	}
	return visits
}

// TrackVisit appends path unless it repeats the latest entry. Only the last
// ten visits are kept.
func (t *Tracker) TrackVisit(ctx context.Context, path string) error {
	visits := t.History(ctx)
	if n := len(visits); n > 0 && visits[n-1].Path == path {
		return nil
	}
	visits = append(visits, Visit{Path: path, Timestamp: t.now().UnixMilli()})
	if len(visits) > maxVisits {
		visits = visits[len(visits)-maxVisits:]
	}
	raw, err := json.Marshal(visits)
	if err != nil {
		return err
	}
	return t.storage.Set(ctx, KeyVisitedPages, raw)
}

// IsReturningFromConfirmation reports whether the two latest visits are the
// entry page followed by the confirmation page, both within the last five
// minutes.
func (t *Tracker) IsReturningFromConfirmation(ctx context.Context) bool {
	visits := t.History(ctx)
	n := len(visits)
	if n < 2 {
		return false
	}
	prev, last := visits[n-2], visits[n-1]
	if prev.Path != PathEntry || last.Path != PathConfirmation {
		return false
	}
	window := roundTripWindow.Milliseconds()
	return last.Timestamp-prev.Timestamp < window && t.now().UnixMilli()-last.Timestamp < window
}

// WasLastVisitConfirmation reports whether the latest visit is the
// confirmation page.
func (t *Tracker) WasLastVisitConfirmation(ctx context.Context) bool {
	visits := t.History(ctx)
	return len(visits) > 0 && visits[len(visits)-1].Path == PathConfirmation
}

// MarkReturning sets the silent-restore flag for the next entry visit.
func (t *Tracker) MarkReturning(ctx context.Context) error {
	return t.storage.Set(ctx, KeyReturningFromEdit, []byte("true"))
}

// TakeReturning reports and clears the silent-restore flag.
func (t *Tracker) TakeReturning(ctx context.Context) bool {
	raw, err := t.storage.Get(ctx, KeyReturningFromEdit)
	if err != nil {
		return false
	}
	if err := t.storage.Remove(ctx, KeyReturningFromEdit); err != nil {
		t.logger.Warn("clearing returning flag", zap.Error(err))
	}
	return string(raw) == "true"
}

// Clear drops the history and the flag.
func (t *Tracker) Clear(ctx context.Context) error {
	return errors.Join(
		t.storage.Remove(ctx, KeyVisitedPages),
		t.storage.Remove(ctx, KeyReturningFromEdit),
	)
}
