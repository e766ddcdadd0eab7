package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert/internal/domain"
)

const (
	// Static Images API size limit per side.
	maxSide = 1280

	epicentreColor = "#d62728"
	referenceColor = "#2ca02c"
	lineColor      = "#1f77b4"
)

// StaticRenderer implements domain.MapRenderer using the Mapbox Static Images API.
type StaticRenderer struct {
	token      string
	style      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewStaticRenderer creates a Mapbox static map renderer. style is
// "{username}/{style_id}", for example "mapbox/outdoors-v12".
func NewStaticRenderer(token, style string, timeout time.Duration, logger *slog.Logger) *StaticRenderer {
	return &StaticRenderer{
		token: token,
		style: style,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.mapbox.com/styles/v1",
		logger:  logger,
	}
}

// Render fetches a PNG framing the epicentre and the reference location.
func (r *StaticRenderer) Render(ctx context.Context, req domain.MapRequest) ([]byte, error) {
	overlay, err := overlayJSON(req)
	if err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}

	ext := domain.MapExtent(req.Event.Geo, req.Reference.Geo, req.DistanceKm)
	w, h := req.Size()
	bbox := fmt.Sprintf("[%.4f,%.4f,%.4f,%.4f]", ext.MinLon, ext.MinLat, ext.MaxLon, ext.MaxLat)

	u := fmt.Sprintf("%s/%s/static/geojson(%s)/%s/%dx%d",
		r.baseURL, r.style, url.PathEscape(overlay), bbox, min(w, maxSide), min(h, maxSide))
	params := url.Values{
		"access_token": {r.token},
		"logo":         {"false"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		// *url.Error repeats the URL, which carries the access token.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("static map request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("mapbox API error: unexpected content type %q", ct)
	}

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	r.logger.Debug("static map rendered", "event_id", req.Event.ID, "bytes", len(img))
	return img, nil
}

// GeoJSON overlay types, styled with the simplestyle-spec properties the
// Static Images API understands.

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func overlayJSON(req domain.MapRequest) (string, error) {
	epi := []float64{req.Event.Geo.Lon, req.Event.Geo.Lat}
	ref := []float64{req.Reference.Geo.Lon, req.Reference.Geo.Lat}

	fc := featureCollection{
		Type: "FeatureCollection",
		Features: []feature{
			{
				Type:     "Feature",
				Geometry: geometry{Type: "LineString", Coordinates: [][]float64{epi, ref}},
				Properties: map[string]any{
					"stroke":         lineColor,
					"stroke-width":   3,
					"stroke-opacity": 0.9,
				},
			},
			{
				Type:       "Feature",
				Geometry:   geometry{Type: "Point", Coordinates: epi},
				Properties: map[string]any{"marker-color": epicentreColor, "marker-size": "large"},
			},
			{
				Type:       "Feature",
				Geometry:   geometry{Type: "Point", Coordinates: ref},
				Properties: map[string]any{"marker-color": referenceColor, "marker-size": "medium"},
			},
		},
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
