// Package domain models earthquake events reported by the USGS FDSN event
// service and the rules used to decide whether one is worth an alert.
//
// # Data Source
//
// Events come from the USGS earthquake catalogue query endpoint,
// https://earthquake.usgs.gov/fdsnws/event/1/query, requested as GeoJSON.
// Each feature carries a stable id (e.g. "us7000abcd") that is unique per
// occurrence and is the only value persisted by this service.
//
// # USGS Data Conventions
//
// Coordinates:
//
//	geometry.coordinates = [longitude, latitude, depth_km]
//	Longitude comes first, as in every GeoJSON document.
//
// Time:
//
//	properties.time is milliseconds since the Unix epoch, UTC.
//	Display conversion to a local zone happens at the edge (see the usgs adapter).
//
// Optional properties:
//
//	alert    PAGER level: green, yellow, orange, red (often null)
//	tsunami  1 when the event is in a tsunami-capable region, else 0
//	cdi      maximum reported intensity from "Did You Feel It?"
//	mmi      maximum estimated instrumental intensity
//	net      contributing network, e.g. "us"
//	sources  comma-separated network codes, e.g. ",us,at,"
//
//	Any of these may be absent or null. They are kept as display strings and
//	render as "unknown" when missing.
//
// # Relevance
//
// Distance is the haversine great-circle distance on a sphere of radius
// 6371 km. An event is relevant when its distance to the configured
// [ReferenceLocation] is at most the relevance radius (2500 km by default).
//
// # Errors
//
// Feed, notification and persistence faults are reported as [FeedError],
// [NotifyError] and [PersistError]. The monitor loop retries the first two on
// the next cycle and stops on the third.
package domain
