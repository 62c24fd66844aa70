// Package storage provides the session-scoped key-value port that backs the
// estimate form. Every value lives under a (session, key) pair and is
// overwritten as a whole; there are no partial updates.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set or was removed.
var ErrNotFound = errors.New("storage: key not found")

// Store is the interface for reading and writing session-scoped values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key for the session.
	Get(ctx context.Context, sessionID, key string) ([]byte, error)

	// Set overwrites the value stored under key for the session.
	Set(ctx context.Context, sessionID, key string, value []byte) error

	// Remove deletes one key. Removing a missing key is not an error.
	Remove(ctx context.Context, sessionID, key string) error

	// Clear deletes every key of the session.
	Clear(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}

// Scoped is a Store bound to a single session. It is the view the form
// layer sees: the session id never leaks past this type.
type Scoped struct {
	store     Store
	sessionID string
}

// Scope binds store to sessionID.
func Scope(store Store, sessionID string) *Scoped {
	return &Scoped{store: store, sessionID: sessionID}
}

// SessionID returns the bound session id.
func (s *Scoped) SessionID() string { return s.sessionID }

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.store.Get(ctx, s.sessionID, key)
}

func (s *Scoped) Set(ctx context.Context, key string, value []byte) error {
	return s.store.Set(ctx, s.sessionID, key, value)
}

func (s *Scoped) Remove(ctx context.Context, key string) error {
	return s.store.Remove(ctx, s.sessionID, key)
}
