package usgs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

const sampleResponse = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "us7000pn9s",
      "properties": {
        "mag": 7.7, "magType": "mww", "place": "2025 Mandalay, Burma (Myanmar) Earthquake",
        "time": 1743142852000, "alert": "red", "tsunami": 0, "cdi": 8.2, "mmi": 9.1,
        "url": "https://earthquake.usgs.gov/earthquakes/eventpage/us7000pn9s",
        "net": "us", "sources": ",us,", "sig": 2910, "felt": 1550, "status": "reviewed",
        "type": "earthquake", "title": "M 7.7 - 2025 Mandalay, Burma (Myanmar) Earthquake"
      },
      "geometry": {"type": "Point", "coordinates": [95.9247, 22.0109, 10]}
    },
    {
      "type": "Feature",
      "id": "ak0253xyz",
      "properties": {"mag": null, "magType": "ml", "place": "Alaska", "time": 1743140000000,
        "alert": null, "tsunami": null, "cdi": null, "mmi": null},
      "geometry": {"type": "Point", "coordinates": [-150.1, 61.2]}
    },
    {"type": "Feature", "id": "", "properties": {}, "geometry": {"type": "Point", "coordinates": [1, 2, 3]}},
    {"type": "Feature", "id": "bad-geom", "properties": {}, "geometry": {"type": "Point", "coordinates": [1]}}
  ]
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(baseURL, "Asia/Bangkok", timeout, observability.NewMetricsForTesting(), discardLogger())
}

func TestClient_Query_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdsnws/event/1/query", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "geojson", q.Get("format"))
		assert.Equal(t, "4", q.Get("minmagnitude"))
		assert.Equal(t, "time", q.Get("orderby"))
		assert.Equal(t, "10", q.Get("limit"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := testClient(srv.URL+"/fdsnws/event/1", 5*time.Second)
	events, err := c.Query(context.Background(), domain.FeedQuery{MinMagnitude: 4, Limit: 10, OrderBy: domain.OrderNewestFirst})
	require.NoError(t, err)
	require.Len(t, events, 2)

	want := domain.Event{
		ID:            "us7000pn9s",
		Magnitude:     7.7,
		MagnitudeType: "mww",
		Place:         "2025 Mandalay, Burma (Myanmar) Earthquake",
		OccurredAt:    1743142852000,
		Geo:           domain.Geo{Lat: 22.0109, Lon: 95.9247},
		DepthKm:       10,
		Attributes: map[string]string{
			domain.AttrAlert:   "red",
			domain.AttrTsunami: "0",
			domain.AttrCDI:     "8.2",
			domain.AttrMMI:     "9.1",
			domain.AttrURL:     "https://earthquake.usgs.gov/earthquakes/eventpage/us7000pn9s",
			domain.AttrNet:     "us",
			domain.AttrSources: ",us,",
			domain.AttrSig:     "2910",
			domain.AttrFelt:    "1550",
			domain.AttrStatus:  "reviewed",
			domain.AttrType:    "earthquake",
			domain.AttrTitle:   "M 7.7 - 2025 Mandalay, Burma (Myanmar) Earthquake",
		},
	}
	if diff := cmp.Diff(want, events[0]); diff != "" {
		t.Fatalf("event mismatch (-want +got):\n%s", diff)
	}

	alaska := events[1]
	assert.Equal(t, "ak0253xyz", alaska.ID)
	assert.Zero(t, alaska.DepthKm)
	assert.True(t, alaska.NoMagnitude)
	assert.Equal(t, domain.Unknown, alaska.MagnitudeLabel())
	assert.Equal(t, domain.Unknown, alaska.Attr(domain.AttrAlert))
	assert.Equal(t, domain.Unknown, alaska.Attr(domain.AttrTsunami))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.FeedRequests.WithLabelValues("success")))
}

func TestClient_Query_OldestFirstAndDefaultOrder(t *testing.T) {
	var orders []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orders = append(orders, r.URL.Query().Get("orderby"))
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.Query(context.Background(), domain.FeedQuery{Limit: 5, OrderBy: domain.OrderOldestFirst})
	require.NoError(t, err)
	events, err := c.Query(context.Background(), domain.FeedQuery{Limit: 5})
	require.NoError(t, err)

	assert.Empty(t, events)
	assert.Equal(t, []string{"time-asc", "time"}, orders)
}

func TestClient_Query_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		retryAfter string
		kind       domain.FeedErrorKind
		sentinel   error
		wantRetry  time.Duration
	}{
		{"bad request", http.StatusBadRequest, "", domain.FeedProtocol, domain.ErrFeedProtocol, 0},
		{"not found", http.StatusNotFound, "", domain.FeedProtocol, domain.ErrFeedProtocol, 0},
		{"forbidden", http.StatusForbidden, "", domain.FeedProtocol, domain.ErrFeedProtocol, 0},
		{"rate limited", http.StatusTooManyRequests, "30", domain.FeedRateLimited, domain.ErrFeedRateLimited, 30 * time.Second},
		{"rate limited without header", http.StatusTooManyRequests, "", domain.FeedRateLimited, domain.ErrFeedRateLimited, 0},
		{"server error", http.StatusServiceUnavailable, "", domain.FeedTransport, domain.ErrFeedTransport, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("Error detail"))
			}))
			defer srv.Close()

			c := testClient(srv.URL, 5*time.Second)
			_, err := c.Query(context.Background(), domain.FeedQuery{Limit: 10})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)

			var fe *domain.FeedError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.kind, fe.Kind)
			assert.Equal(t, tc.status, fe.StatusCode)
			assert.Equal(t, tc.wantRetry, fe.RetryAfter)
			assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.FeedRequests.WithLabelValues(tc.kind.String())))
		})
	}
}

func TestClient_Query_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).Query(context.Background(), domain.FeedQuery{Limit: 10})
	assert.ErrorIs(t, err, domain.ErrFeedProtocol)
}

func TestClient_Query_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 50*time.Millisecond).Query(context.Background(), domain.FeedQuery{Limit: 10})
	assert.ErrorIs(t, err, domain.ErrFeedTransport)
}

func TestClient_Query_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := testClient(addr, time.Second).Query(context.Background(), domain.FeedQuery{Limit: 10})
	assert.ErrorIs(t, err, domain.ErrFeedTransport)
}

func TestClient_FormatLocalTime(t *testing.T) {
	c := testClient("http://unused", time.Second)
	assert.Equal(t, "2025-03-28 13:20:52 +07", c.FormatLocalTime(1743142852000))
}

func TestClient_FormatLocalTime_InvalidZoneFallsBackToUTC(t *testing.T) {
	c := NewClient("http://unused", "Mars/Olympus_Mons", time.Second, observability.NewMetricsForTesting(), discardLogger())
	assert.Equal(t, "2025-03-28 06:20:52 UTC", c.FormatLocalTime(1743142852000))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 120*time.Second, parseRetryAfter("120"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.Zero(t, parseRetryAfter("-5"))
	assert.Greater(t, parseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)), 59*time.Minute)
}
