package usgs

import (
	"strconv"

	"github.com/couchcryptid/quake-alert/internal/domain"
)

// USGS GeoJSON response types.

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   geometry   `json:"geometry"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth_km]
}

// Nullable fields are pointers; USGS sends null for most of them on small events.
type properties struct {
	Mag     *float64 `json:"mag"`
	MagType string   `json:"magType"`
	Place   string   `json:"place"`
	Time    int64    `json:"time"`
	Alert   *string  `json:"alert"`
	Tsunami *int     `json:"tsunami"`
	CDI     *float64 `json:"cdi"`
	MMI     *float64 `json:"mmi"`
	URL     string   `json:"url"`
	Net     string   `json:"net"`
	Sources string   `json:"sources"`
	Sig     *int     `json:"sig"`
	Felt    *int     `json:"felt"`
	Status  string   `json:"status"`
	Type    string   `json:"type"`
	Title   string   `json:"title"`
}

func (f feature) toEvent() (domain.Event, bool) {
	if f.ID == "" || len(f.Geometry.Coordinates) < 2 {
		return domain.Event{}, false
	}

	p := f.Properties
	ev := domain.Event{
		ID:            f.ID,
		MagnitudeType: p.MagType,
		Place:         p.Place,
		OccurredAt:    p.Time,
		Geo:           domain.Geo{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]},
		Attributes:    make(map[string]string),
	}
	if p.Mag != nil {
		ev.Magnitude = *p.Mag
	} else {
		ev.NoMagnitude = true
	}
	if len(f.Geometry.Coordinates) > 2 {
		ev.DepthKm = f.Geometry.Coordinates[2]
	}

	set := func(key, v string) {
		if v != "" {
			ev.Attributes[key] = v
		}
	}
	if p.Alert != nil {
		set(domain.AttrAlert, *p.Alert)
	}
	if p.Tsunami != nil {
		set(domain.AttrTsunami, strconv.Itoa(*p.Tsunami))
	}
	if p.CDI != nil {
		set(domain.AttrCDI, strconv.FormatFloat(*p.CDI, 'f', -1, 64))
	}
	if p.MMI != nil {
		set(domain.AttrMMI, strconv.FormatFloat(*p.MMI, 'f', -1, 64))
	}
	if p.Sig != nil {
		set(domain.AttrSig, strconv.Itoa(*p.Sig))
	}
	if p.Felt != nil {
		set(domain.AttrFelt, strconv.Itoa(*p.Felt))
	}
	set(domain.AttrURL, p.URL)
	set(domain.AttrNet, p.Net)
	set(domain.AttrSources, p.Sources)
	set(domain.AttrStatus, p.Status)
	set(domain.AttrType, p.Type)
	set(domain.AttrTitle, p.Title)

	return ev, true
}
