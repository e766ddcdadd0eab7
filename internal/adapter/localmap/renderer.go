// Package localmap renders alert maps offline with fogleman/gg. It draws a
// graticule instead of coastlines, which is enough to place the epicentre
// relative to the reference location when no tile service is available.
package localmap

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"math"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

const (
	margin      = 40.0
	titleHeight = 30.0

	// Points and midpoint labels are only drawn when they would not overlap.
	labelMinDistanceKm = 100.0
)

// Renderer implements domain.MapRenderer without network access.
type Renderer struct{}

// NewRenderer creates an offline renderer.
func NewRenderer() *Renderer { return &Renderer{} }

// Render draws the map and encodes it as PNG.
func (r *Renderer) Render(ctx context.Context, req domain.MapRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := req.Size()
	dc := gg.NewContext(w, h)
	dc.SetFontFace(basicfont.Face7x13)

	ext := domain.MapExtent(req.Event.Geo, req.Reference.Geo, req.DistanceKm)
	p := newProjection(ext, float64(w), float64(h))

	dc.SetHexColor("#ffffff")
	dc.Clear()
	dc.SetHexColor("#cde6f5")
	dc.DrawRectangle(p.left, p.top, p.width, p.height)
	dc.Fill()

	drawGraticule(dc, p, ext)

	epi := req.Event.Geo
	ref := req.Reference.Geo
	ex, ey := p.point(epi)
	rx, ry := p.point(ref)

	dc.SetHexColor("#808080")
	dc.SetLineWidth(1.5)
	dc.SetDash(8, 5)
	dc.DrawLine(ex, ey, rx, ry)
	dc.Stroke()
	dc.SetDash()

	drawMarker(dc, ex, ey, "#e74c3c")
	drawMarker(dc, rx, ry, "#27ae60")

	if req.DistanceKm > labelMinDistanceKm {
		offset := math.Min(math.Max(req.DistanceKm/1000, 0.1), 1.0)
		lx, ly := p.point(domain.Geo{Lat: epi.Lat + offset, Lon: epi.Lon - offset})
		drawLabel(dc, req.Event.Place, lx, ly, "#e74c3c")
		lx, ly = p.point(domain.Geo{Lat: ref.Lat + offset, Lon: ref.Lon - offset})
		drawLabel(dc, req.Reference.Name, lx, ly, "#27ae60")

		mx, my := p.point(domain.Midpoint(epi, ref))
		drawBadge(dc, fmt.Sprintf("%.2f km", req.DistanceKm), mx, my)
	}

	drawLegend(dc, p, req.Reference.Name)

	dc.SetHexColor("#000000")
	dc.DrawStringAnchored("Earthquake Epicenter and Distance to "+req.Reference.Name, float64(w)/2, margin/2, 0.5, 0.5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// projection maps lon/lat to pixels with a plate carrée projection.
type projection struct {
	ext                      domain.Extent
	left, top, width, height float64
}

func newProjection(ext domain.Extent, w, h float64) projection {
	return projection{
		ext:    ext,
		left:   margin,
		top:    margin + titleHeight/2,
		width:  w - 2*margin,
		height: h - 2*margin - titleHeight/2,
	}
}

func (p projection) point(g domain.Geo) (float64, float64) {
	lonSpan := p.ext.MaxLon - p.ext.MinLon
	latSpan := p.ext.MaxLat - p.ext.MinLat
	x := p.left + (g.Lon-p.ext.MinLon)/lonSpan*p.width
	y := p.top + (p.ext.MaxLat-g.Lat)/latSpan*p.height
	return x, y
}

// graticuleStep picks a line spacing giving roughly four to ten lines.
func graticuleStep(span float64) float64 {
	for _, step := range []float64{1, 2, 5, 10, 15, 30} {
		if span/step <= 10 {
			return step
		}
	}
	return 45
}

func drawGraticule(dc *gg.Context, p projection, ext domain.Extent) {
	dc.SetRGBA(0.5, 0.5, 0.5, 0.4)
	dc.SetLineWidth(0.5)

	step := graticuleStep(math.Max(ext.MaxLon-ext.MinLon, ext.MaxLat-ext.MinLat))
	for lon := math.Ceil(ext.MinLon/step) * step; lon <= ext.MaxLon; lon += step {
		x, _ := p.point(domain.Geo{Lon: lon, Lat: ext.MinLat})
		dc.DrawLine(x, p.top, x, p.top+p.height)
		dc.Stroke()
		dc.DrawStringAnchored(degrees(lon, "E", "W"), x, p.top+p.height+12, 0.5, 0.5)
	}
	for lat := math.Ceil(ext.MinLat/step) * step; lat <= ext.MaxLat; lat += step {
		_, y := p.point(domain.Geo{Lon: ext.MinLon, Lat: lat})
		dc.DrawLine(p.left, y, p.left+p.width, y)
		dc.Stroke()
		dc.DrawStringAnchored(degrees(lat, "N", "S"), p.left-6, y, 1, 0.5)
	}
}

// degrees formats a graticule label; basicfont has no degree sign.
func degrees(v float64, pos, neg string) string {
	switch {
	case v > 0:
		return fmt.Sprintf("%.0f%s", v, pos)
	case v < 0:
		return fmt.Sprintf("%.0f%s", -v, neg)
	}
	return "0"
}

func drawMarker(dc *gg.Context, x, y float64, hex string) {
	dc.DrawCircle(x, y, 6)
	dc.SetHexColor(hex)
	dc.FillPreserve()
	dc.SetHexColor("#ffffff")
	dc.SetLineWidth(1.5)
	dc.Stroke()
}

func drawLabel(dc *gg.Context, text string, x, y float64, hex string) {
	if text == "" {
		return
	}
	dc.SetHexColor(hex)
	dc.DrawStringAnchored(text, x, y, 0, 1)
}

func drawBadge(dc *gg.Context, text string, x, y float64) {
	tw, th := dc.MeasureString(text)
	const pad = 4.0
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawRoundedRectangle(x-tw/2-pad, y-th/2-pad, tw+2*pad, th+2*pad, 4)
	dc.Fill()
	dc.SetHexColor("#34495e")
	dc.DrawStringAnchored(text, x, y, 0.5, 0.5)
}

func drawLegend(dc *gg.Context, p projection, referenceName string) {
	x := p.left + 10
	y := p.top + p.height - 44
	dc.SetRGBA(1, 1, 1, 0.85)
	dc.DrawRectangle(x, y, 140, 36)
	dc.Fill()

	entries := []struct {
		label, hex string
	}{
		{"Epicenter", "#e74c3c"},
		{referenceName, "#27ae60"},
	}
	for i, e := range entries {
		cy := y + 10 + float64(i)*16
		dc.DrawCircle(x+10, cy, 4)
		dc.SetHexColor(e.hex)
		dc.Fill()
		dc.SetHexColor("#000000")
		dc.DrawStringAnchored(e.label, x+20, cy, 0, 0.5)
	}
}
