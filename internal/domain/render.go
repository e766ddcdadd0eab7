package domain

import "context"

// Default rendered map size in pixels.
const (
	DefaultMapWidth  = 800
	DefaultMapHeight = 800
)

// MapRequest describes a map showing an epicentre relative to the reference
// location.
type MapRequest struct {
	Event      Event
	Reference  ReferenceLocation
	DistanceKm float64
	Width      int
	Height     int
}

// Size returns the requested size, substituting defaults for zero values.
func (r MapRequest) Size() (int, int) {
	w, h := r.Width, r.Height
	if w <= 0 {
		w = DefaultMapWidth
	}
	if h <= 0 {
		h = DefaultMapHeight
	}
	return w, h
}

// MapRenderer produces a PNG image for a MapRequest.
type MapRenderer interface {
	Render(ctx context.Context, req MapRequest) ([]byte, error)
}
