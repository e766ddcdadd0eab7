package domain

import "math"

const (
	kmPerDegree  = 111.0
	minSpanDeg   = 2.0
	extentPadDeg = 2.0
	maxMapLat    = 85.0
)

// Extent is a lon/lat bounding box for a rendered map.
type Extent struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// MapExtent frames the epicentre and the reference point in a square box
// centred on their midpoint. The half-span is the larger coordinate delta,
// but never less than the distance in degrees (or 2 degrees), plus 2 degrees
// of padding.
func MapExtent(epicentre, reference Geo, distanceKm float64) Extent {
	centreLat := (epicentre.Lat + reference.Lat) / 2
	centreLon := (epicentre.Lon + reference.Lon) / 2

	latSpan := math.Abs(epicentre.Lat - reference.Lat)
	lonSpan := math.Abs(epicentre.Lon - reference.Lon)
	minSpan := math.Max(distanceKm/kmPerDegree, minSpanDeg)
	span := math.Max(math.Max(latSpan, lonSpan), minSpan) + extentPadDeg

	return Extent{
		MinLon: clamp(centreLon-span, -180, 180),
		MinLat: clamp(centreLat-span, -maxMapLat, maxMapLat),
		MaxLon: clamp(centreLon+span, -180, 180),
		MaxLat: clamp(centreLat+span, -maxMapLat, maxMapLat),
	}
}

// Midpoint returns the arithmetic midpoint of two coordinates, used to place
// the distance label.
func Midpoint(a, b Geo) Geo {
	return Geo{Lat: (a.Lat + b.Lat) / 2, Lon: (a.Lon + b.Lon) / 2}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
