package store

import (
	"context"
	"sync"
)

// MemoryLog is a Log that lives only as long as the process. It backs dry
// runs and tests.
type MemoryLog struct {
	mu  sync.Mutex
	ids []string
	err error
}

// NewMemoryLog returns a log pre-populated with ids.
func NewMemoryLog(ids ...string) *MemoryLog {
	return &MemoryLog{ids: append([]string(nil), ids...)}
}

func (l *MemoryLog) Load(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...), nil
}

func (l *MemoryLog) Append(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.ids = append(l.ids, id)
	return nil
}

// FailAppends makes every later Append return err. Pass nil to recover.
func (l *MemoryLog) FailAppends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// IDs returns a copy of the appended ids.
func (l *MemoryLog) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func (l *MemoryLog) Close() error { return nil }
