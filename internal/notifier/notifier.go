// Package notifier turns a relevant earthquake into a map image and a text
// alert and hands both to a messenger.
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/observability"
)

// Messenger delivers an image and a text message to the configured recipient.
type Messenger interface {
	SendPhoto(ctx context.Context, path, caption string) error
	SendMessage(ctx context.Context, html string) error
}

// TimeFormatter renders an event instant for display.
type TimeFormatter interface {
	FormatLocalTime(epochMillis int64) string
}

// Notifier sends one alert per relevant event.
type Notifier struct {
	reference domain.ReferenceLocation
	renderer  domain.MapRenderer
	messenger Messenger
	clock     TimeFormatter
	imageDir  string
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates a Notifier. renderer may be nil, in which case only the text
// alert is sent.
func New(reference domain.ReferenceLocation, renderer domain.MapRenderer, messenger Messenger, clock TimeFormatter, imageDir string, metrics *observability.Metrics, logger *slog.Logger) *Notifier {
	return &Notifier{
		reference: reference,
		renderer:  renderer,
		messenger: messenger,
		clock:     clock,
		imageDir:  imageDir,
		metrics:   metrics,
		logger:    logger,
	}
}

// Notify renders the map, sends it, then sends the text alert. A render
// failure only drops the image. Any send failure is returned as a
// *domain.NotifyError and the caller must treat the event as not notified.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event, distanceKm float64) error {
	logger := n.logger.With("event_id", ev.ID, "distance_km", round2(distanceKm))

	if path, ok := n.renderMap(ctx, ev, distanceKm, logger); ok {
		err := n.messenger.SendPhoto(ctx, path, domain.Caption(ev, distanceKm, n.reference))
		n.removeImage(path, logger)
		if err != nil {
			n.metrics.Notifications.WithLabelValues("failed").Inc()
			return &domain.NotifyError{Stage: domain.StageImage, EventID: ev.ID, Err: err}
		}
		logger.Debug("map image sent")
	}

	text := domain.FormatAlert(domain.Alert{
		Event:      ev,
		DistanceKm: distanceKm,
		LocalTime:  n.clock.FormatLocalTime(ev.OccurredAt),
		Reference:  n.reference,
	})
	if err := n.messenger.SendMessage(ctx, text); err != nil {
		n.metrics.Notifications.WithLabelValues("failed").Inc()
		return &domain.NotifyError{Stage: domain.StageText, EventID: ev.ID, Err: err}
	}

	n.metrics.Notifications.WithLabelValues("sent").Inc()
	logger.Info("alert sent", "magnitude", ev.Magnitude, "place", ev.Place)
	return nil
}

func (n *Notifier) renderMap(ctx context.Context, ev domain.Event, distanceKm float64, logger *slog.Logger) (string, bool) {
	if n.renderer == nil {
		return "", false
	}

	img, err := n.renderer.Render(ctx, domain.MapRequest{
		Event:      ev,
		Reference:  n.reference,
		DistanceKm: distanceKm,
	})
	if err == nil && len(img) == 0 {
		err = errors.New("renderer returned no image")
	}
	if err != nil {
		n.metrics.RenderFailures.Inc()
		logger.Warn("map render failed, sending text only", "stage", domain.StageRender, "error", err)
		return "", false
	}

	path := filepath.Join(n.imageDir, "quake-"+sanitize(ev.ID)+".png")
	if err := os.MkdirAll(n.imageDir, 0o755); err != nil {
		n.metrics.RenderFailures.Inc()
		logger.Warn("create map image dir failed, sending text only", "stage", domain.StageRender, "error", err)
		return "", false
	}
	if err := os.WriteFile(path, img, 0o600); err != nil {
		n.metrics.RenderFailures.Inc()
		logger.Warn("write map image failed, sending text only", "stage", domain.StageRender, "path", path, "error", err)
		return "", false
	}
	return path, true
}

func (n *Notifier) removeImage(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("remove map image failed", "path", path, "error", err)
	}
}

// sanitize keeps an event id safe to use as a file name.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
