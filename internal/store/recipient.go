package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RecipientCache persists the resolved messaging recipient (chat) id so the
// discovery call only has to happen once.
type RecipientCache struct {
	path string
}

// NewRecipientCache returns a cache backed by path.
func NewRecipientCache(path string) *RecipientCache {
	return &RecipientCache{path: path}
}

// Load returns the cached id. ok is false when nothing has been cached yet.
func (c *RecipientCache) Load() (id int64, ok bool, err error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read recipient cache %s: %w", c.path, err)
	}

	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse recipient cache %s: %w", c.path, err)
	}
	return id, true, nil
}

// Save writes id through a temp file and rename.
func (c *RecipientCache) Save(id int64) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", c.path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("write recipient cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatInt(id, 10) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write recipient cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write recipient cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write recipient cache: %w", err)
	}
	return nil
}
