package notifier

import (
	"context"
	"log/slog"
	"os"
)

// LogMessenger logs what would be sent instead of sending it. Used for dry runs.
type LogMessenger struct {
	logger *slog.Logger
}

func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) SendPhoto(_ context.Context, path, caption string) error {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	m.logger.Info("dry run: photo", "path", path, "bytes", size, "caption", caption)
	return nil
}

func (m *LogMessenger) SendMessage(_ context.Context, html string) error {
	m.logger.Info("dry run: message", "text", html)
	return nil
}
