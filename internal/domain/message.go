package domain

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Alert is everything needed to render the text of one notification.
type Alert struct {
	Event      Event
	DistanceKm float64
	LocalTime  string
	Reference  ReferenceLocation
}

// FormatAlert renders the alert as Telegram HTML. Feed-supplied strings are
// escaped; missing attributes render as "unknown".
func FormatAlert(a Alert) string {
	ev := a.Event
	esc := html.EscapeString

	place := ev.Place
	if place == "" {
		place = "Unknown location"
	}

	tsunami := "none"
	if ev.Attr(AttrTsunami) == "1" {
		tsunami = "possible"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📌 <b>Earthquake near: %s</b>\n", esc(place))
	fmt.Fprintf(&b, "📏 <b>Distance from %s:</b> %.2f km\n", esc(a.Reference.Name), a.DistanceKm)
	fmt.Fprintf(&b, "🕒 <b>Time:</b> %s\n", esc(a.LocalTime))
	fmt.Fprintf(&b, "🌍 <b>Magnitude:</b> %s (%s)\n", ev.MagnitudeLabel(), esc(orUnknown(ev.MagnitudeType)))
	fmt.Fprintf(&b, "📉 <b>Depth:</b> %s km\n", formatNumber(ev.DepthKm))
	fmt.Fprintf(&b, "📈 <b>Intensity:</b> CDI: %s, MMI: %s\n", esc(ev.Attr(AttrCDI)), esc(ev.Attr(AttrMMI)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "🚨 <b>PAGER alert level:</b> %s\n", esc(ev.Attr(AttrAlert)))
	fmt.Fprintf(&b, "🌊 <b>Tsunami:</b> %s\n", tsunami)
	b.WriteString("\n")
	fmt.Fprintf(&b, "📡 <b>Network:</b> %s\n", esc(ev.Attr(AttrNet)))
	fmt.Fprintf(&b, "🛰️ <b>Sources:</b> %s\n", esc(ev.Attr(AttrSources)))
	if u := ev.Attr(AttrURL); u != Unknown {
		fmt.Fprintf(&b, "🔎 <b>More:</b> <a href=\"%s\">USGS event page</a>", esc(u))
	} else {
		b.WriteString("🔎 <b>More:</b> unknown")
	}

	return b.String()
}

// Caption is the short line attached to the map image.
func Caption(ev Event, distanceKm float64, ref ReferenceLocation) string {
	place := ev.Place
	if place == "" {
		place = "Unknown location"
	}
	mag := ev.MagnitudeLabel()
	if ev.NoMagnitude {
		mag = "Magnitude unknown,"
	}
	return fmt.Sprintf("%s %s, %.2f km from %s", mag, place, distanceKm, ref.Name)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
