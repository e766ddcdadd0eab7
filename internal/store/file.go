package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidID is returned for ids that cannot be stored one per line.
var ErrInvalidID = errors.New("invalid event id")

// FileLog stores ids in a plain text file, one per line. Every append is
// followed by fsync. A last line without a newline still counts as an id;
// the newline is added before the next append so existing lines are never
// rewritten. A tail of only whitespace is a torn write and is dropped.
type FileLog struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileLog returns a log backed by path. The file is created on the first
// append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Load reads every non-blank line from the file.
func (l *FileLog) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Append writes id and a newline, then syncs the file.
func (l *FileLog) Append(_ context.Context, id string) error {
	if id == "" || strings.TrimSpace(id) != id || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		f, err := l.open()
		if err != nil {
			return err
		}
		l.f = f
	}

	if _, err := l.f.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", l.path, err)
	}
	return nil
}

// Close closes the file if it was opened.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// open creates the file if needed and terminates an unfinished last line.
func (l *FileLog) open() (*os.File, error) {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", l.path, err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	complete, tail := splitCommitted(data)
	switch {
	case len(tail) == 0:
	case len(bytes.TrimSpace(tail)) == 0:
		if err := f.Truncate(int64(len(complete))); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate torn line in %s: %w", l.path, err)
		}
	default:
		if _, err := f.WriteString("\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("terminate last line in %s: %w", l.path, err)
		}
	}
	return f, nil
}

// splitCommitted splits data after its last newline.
func splitCommitted(data []byte) (complete, tail []byte) {
	i := bytes.LastIndexByte(data, '\n')
	return data[:i+1], data[i+1:]
}
