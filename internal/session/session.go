// Package session manages visitor session lifecycle. A session is identified
// by a cookie and scopes everything the estimate form keeps in storage.
package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/storage"
)

// CookieName is the session cookie.
const CookieName = "quoteform_session"

// Session holds per-visitor state.
type Session struct {
	ID        string
	CreatedAt time.Time

	lastActive atomic.Int64
	mu         sync.Mutex
	submitting atomic.Bool
	storage    *storage.Scoped
	clock      func() time.Time
}

func newSession(id string, st storage.Store, clock func() time.Time) *Session {
	now := clock()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		storage:   storage.Scope(st, id),
		clock:     clock,
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Storage returns the storage view bound to this session.
func (s *Session) Storage() *storage.Scoped { return s.storage }

// SubmitFlag returns the session's submission-in-progress flag.
func (s *Session) SubmitFlag() *atomic.Bool { return &s.submitting }

// Lock serializes form mutations within the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// LastActiveAt returns the last activity timestamp.
func (s *Session) LastActiveAt() time.Time { return time.Unix(0, s.lastActive.Load()) }

func (s *Session) touch(now time.Time) { s.lastActive.Store(now.UnixNano()) }

// Touch marks the session active. Long-lived connections call it for every
// inbound message so the idle sweep does not expire a session in use.
func (s *Session) Touch() { s.touch(s.clock()) }

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.LastActiveAt()) > timeout
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	store       storage.Store
	maxAge      time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewManager creates a session manager over store with the given timeouts.
// A zero timeout disables that limit.
func NewManager(store storage.Store, maxAge, idleTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		store:       store,
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// Create creates a new session and returns it.
func (m *Manager) Create() *Session {
	s := newSession(uuid.New().String(), m.store, m.clock)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// clock reads m.now on every call so sessions follow a replaced clock.
func (m *Manager) clock() time.Time { return m.now() }

// Get retrieves a session by ID. Returns nil if not found or expired.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	now := m.now()
	if s.IsExpired(now, m.maxAge) || s.IsIdle(now, m.idleTimeout) {
		m.expire(context.Background(), id)
		return nil
	}
	s.touch(now)
	return s
}

// Resolve returns the live session for a cookie value. Unknown, expired or
// malformed ids get a fresh session with a new id; created reports that case.
func (m *Manager) Resolve(id string) (s *Session, created bool) {
	if id != "" {
		if live := m.Get(id); live != nil {
			return live, false
		}
	}
	return m.Create(), true
}

// Remove deletes a session and its stored values.
func (m *Manager) Remove(ctx context.Context, id string) {
	m.expire(ctx, id)
}

func (m *Manager) expire(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	if err := m.store.Clear(ctx, id); err != nil {
		m.logger.Warn("clearing session storage", zap.String("session", id), zap.Error(err))
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired and idle sessions and returns how many were
// dropped.
func (m *Manager) Cleanup(ctx context.Context) int {
	now := m.now()
	var stale []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IsExpired(now, m.maxAge) || s.IsIdle(now, m.idleTimeout) {
			delete(m.sessions, id)
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.store.Clear(ctx, id); err != nil {
			m.logger.Warn("clearing session storage", zap.String("session", id), zap.Error(err))
		}
	}
	return len(stale)
}

// Run calls Cleanup every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := m.Cleanup(ctx); n > 0 {
				m.logger.Info("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}

// FromRequest returns the session cookie value, "" when absent.
func FromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetCookie writes the session cookie. It has no expiry, so it lasts as long
// as the browser session.
func SetCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type ctxKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, nil when none.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware resolves the session of every request, refreshes its cookie
// and stores it in the request context.
func (m *Manager) Middleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, created := m.Resolve(FromRequest(r))
			if created || FromRequest(r) != s.ID {
				SetCookie(w, s.ID, secure)
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
		})
	}
}
