// Package store keeps the durable record of events that have already been
// notified. The record is an append-only log of event ids; NotifiedSet is the
// in-memory view loaded from it once at startup.
package store

import (
	"context"
	"sync"

	"github.com/couchcryptid/quake-alert/internal/domain"
)

// Log is a durable append-only log of notified event ids.
type Log interface {
	// Load returns every id appended so far, oldest first. A log that does
	// not exist yet is empty, not an error.
	Load(ctx context.Context) ([]string, error)

	// Append durably records one id. It returns only once the id would
	// survive a crash.
	Append(ctx context.Context, id string) error

	Close() error
}

// NotifiedSet answers "was this event already notified?" and records new
// notifications. Ids are never removed.
type NotifiedSet struct {
	log Log

	mu  sync.RWMutex
	ids map[string]struct{}
}

// Open loads the log into a new set.
func Open(ctx context.Context, log Log) (*NotifiedSet, error) {
	ids, err := log.Load(ctx)
	if err != nil {
		return nil, &domain.PersistError{Op: "load", Err: err}
	}

	s := &NotifiedSet{
		log: log,
		ids: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s, nil
}

// Contains reports whether id has been committed.
func (s *NotifiedSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Commit appends id to the durable log and then to the in-memory set.
// Committing a known id is a no-op. A failed append leaves the set unchanged
// and returns a *domain.PersistError.
func (s *NotifiedSet) Commit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return nil
	}
	if err := s.log.Append(ctx, id); err != nil {
		return &domain.PersistError{Op: "append", EventID: id, Err: err}
	}
	s.ids[id] = struct{}{}
	return nil
}

// Len returns the number of committed ids.
func (s *NotifiedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Close closes the underlying log.
func (s *NotifiedSet) Close() error {
	return s.log.Close()
}
