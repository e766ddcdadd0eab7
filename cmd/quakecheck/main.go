// Command quakecheck runs one monitor cycle against the live USGS feed
// without sending anything, and prints what would have been notified.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/quake-alert/internal/adapter/localmap"
	"github.com/couchcryptid/quake-alert/internal/adapter/usgs"
	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/monitor"
	"github.com/couchcryptid/quake-alert/internal/notifier"
	"github.com/couchcryptid/quake-alert/internal/observability"
	"github.com/couchcryptid/quake-alert/internal/store"
	"github.com/jonboulle/clockwork"
)

func main() {
	name := flag.String("name", "Bangkok", "reference location name")
	lat := flag.Float64("lat", 13.7563, "reference latitude")
	lon := flag.Float64("lon", 100.5018, "reference longitude")
	radius := flag.Float64("radius", 2500, "relevance radius in km")
	minMag := flag.Float64("min-mag", 4, "minimum magnitude")
	limit := flag.Int("limit", 10, "events per poll")
	feedURL := flag.String("feed", "https://earthquake.usgs.gov/fdsnws/event/1/", "USGS FDSN event service base URL")
	tz := flag.String("tz", "Asia/Bangkok", "display timezone")
	maps := flag.Bool("maps", false, "render offline maps into the temp dir")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	metrics := observability.NewMetricsForTesting()

	ref := domain.ReferenceLocation{Name: *name, Geo: domain.Geo{Lat: *lat, Lon: *lon}, RadiusKm: *radius}

	notified, err := store.Open(context.Background(), store.NewMemoryLog())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}

	var renderer domain.MapRenderer
	if *maps {
		renderer = localmap.NewRenderer()
	}

	feed := usgs.NewClient(*feedURL, *tz, 10*time.Second, metrics, logger)
	n := notifier.New(ref, renderer, notifier.NewLogMessenger(logger), feed, os.TempDir(), metrics, logger)
	mon := monitor.New(monitor.Config{
		Reference:    ref,
		MinMagnitude: *minMag,
		BatchLimit:   *limit,
		OrderBy:      domain.OrderNewestFirst,
		PollInterval: time.Second,
		MaxBackoff:   time.Second,
	}, feed, n, notified, clockwork.NewRealClock(), logger, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := mon.RunCycle(ctx)
	fmt.Printf("outcome=%s received=%d duplicates=%d out_of_range=%d would_notify=%d failed=%d\n",
		res.Outcome, res.Received, res.Duplicates, res.OutOfRange, res.Notified, res.Failed)
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", res.Err)
		cancel()
		os.Exit(1)
	}
}
