package domain

import "time"

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Optional attribute keys carried in Event.Attributes.
const (
	AttrAlert   = "alert"
	AttrTsunami = "tsunami"
	AttrCDI     = "cdi"
	AttrMMI     = "mmi"
	AttrURL     = "url"
	AttrNet     = "net"
	AttrSources = "sources"
	AttrSig     = "sig"
	AttrFelt    = "felt"
	AttrStatus  = "status"
	AttrType    = "type"
	AttrTitle   = "title"
)

// Unknown is rendered in place of any missing attribute.
const Unknown = "unknown"

// Event is a single earthquake as reported by the feed. It is built fresh
// from each query response and never mutated afterwards.
type Event struct {
	ID            string            `json:"id"`
	Magnitude     float64           `json:"magnitude"`
	MagnitudeType string            `json:"magnitude_type"`
	Place         string            `json:"place"`
	OccurredAt    int64             `json:"occurred_at"` // epoch millis, UTC
	Geo           Geo               `json:"geo"`
	DepthKm       float64           `json:"depth_km"`
	NoMagnitude   bool              `json:"no_magnitude,omitempty"` // feed sent a null mag
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// MagnitudeLabel returns the magnitude as "M5.2", or Unknown when the feed
// did not report one.
func (e Event) MagnitudeLabel() string {
	if e.NoMagnitude {
		return Unknown
	}
	return "M" + formatNumber(e.Magnitude)
}

// OccurredAtTime returns the occurrence instant in UTC.
func (e Event) OccurredAtTime() time.Time {
	return time.UnixMilli(e.OccurredAt).UTC()
}

// Attr returns the named optional attribute, or Unknown when it is absent.
func (e Event) Attr(key string) string {
	if v, ok := e.Attributes[key]; ok && v != "" {
		return v
	}
	return Unknown
}

// ReferenceLocation is the fixed point of interest and the radius within
// which events are considered relevant.
type ReferenceLocation struct {
	Name     string
	Geo      Geo
	RadiusKm float64
}

// DistanceTo returns the great-circle distance from the reference point to g.
func (r ReferenceLocation) DistanceTo(g Geo) float64 {
	return DistanceKm(r.Geo.Lat, r.Geo.Lon, g.Lat, g.Lon)
}

// Contains reports whether a distance falls inside the relevance radius.
func (r ReferenceLocation) Contains(distanceKm float64) bool {
	return distanceKm <= r.RadiusKm
}

// Ordering values for FeedQuery.OrderBy, as understood by the USGS orderby
// parameter.
const (
	OrderNewestFirst = "time"
	OrderOldestFirst = "time-asc"
)

// FeedQuery selects a bounded batch of recent events.
type FeedQuery struct {
	MinMagnitude float64
	Limit        int
	OrderBy      string
}
