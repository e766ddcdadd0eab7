package mapbox

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/quake-alert/internal/domain"
)

// FallbackRenderer tries primary and, on failure, secondary.
type FallbackRenderer struct {
	primary   domain.MapRenderer
	secondary domain.MapRenderer
	logger    *slog.Logger
}

func NewFallbackRenderer(primary, secondary domain.MapRenderer, logger *slog.Logger) *FallbackRenderer {
	return &FallbackRenderer{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackRenderer) Render(ctx context.Context, req domain.MapRequest) ([]byte, error) {
	img, err := f.primary.Render(ctx, req)
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn("primary map renderer failed, using fallback", "event_id", req.Event.ID, "error", err)
	return f.secondary.Render(ctx, req)
}
