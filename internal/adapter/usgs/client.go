// Package usgs queries the USGS FDSN event web service for recent
// earthquakes and maps transport outcomes onto domain.FeedError.
package usgs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/observability"
)

const displayLayout = "2006-01-02 15:04:05 MST"

// Client implements the monitor's feed using the USGS event API. It never
// retries; retry policy belongs to the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	location   *time.Location
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feed client. An unknown timezone falls back to UTC.
func NewClient(baseURL, timezone string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		logger.Warn("unknown display timezone, using UTC", "timezone", timezone, "error", err)
		loc = time.UTC
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		location:   loc,
		metrics:    metrics,
		logger:     logger,
	}
}

// Query fetches events and returns them in feed order.
func (c *Client) Query(ctx context.Context, q domain.FeedQuery) ([]domain.Event, error) {
	start := time.Now()
	events, err := c.query(ctx, q)
	c.metrics.FeedDuration.Observe(time.Since(start).Seconds())

	var fe *domain.FeedError
	switch {
	case err == nil:
		c.metrics.FeedRequests.WithLabelValues("success").Inc()
		c.metrics.FeedEvents.Observe(float64(len(events)))
	case errors.As(err, &fe):
		c.metrics.FeedRequests.WithLabelValues(fe.Kind.String()).Inc()
	}
	return events, err
}

func (c *Client) query(ctx context.Context, q domain.FeedQuery) ([]domain.Event, error) {
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = domain.OrderNewestFirst
	}
	params := url.Values{
		"format":       {"geojson"},
		"minmagnitude": {strconv.FormatFloat(q.MinMagnitude, 'f', -1, 64)},
		"orderby":      {orderBy},
		"limit":        {strconv.Itoa(q.Limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"query?"+params.Encode(), nil)
	if err != nil {
		return nil, &domain.FeedError{Kind: domain.FeedProtocol, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FeedError{Kind: domain.FeedTransport, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &domain.FeedError{Kind: domain.FeedTransport, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &domain.FeedError{Kind: domain.FeedProtocol, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	events := make([]domain.Event, 0, len(fc.Features))
	for _, f := range fc.Features {
		ev, ok := f.toEvent()
		if !ok {
			c.logger.Warn("dropping malformed feed feature", "event_id", f.ID, "coordinates", len(f.Geometry.Coordinates))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// FormatLocalTime renders an epoch-millis instant in the display timezone.
func (c *Client) FormatLocalTime(epochMillis int64) string {
	return time.UnixMilli(epochMillis).In(c.location).Format(displayLayout)
}

func checkStatus(resp *http.Response) error {
	status := resp.StatusCode
	if status == http.StatusOK || status == http.StatusNoContent {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))

	switch {
	case status == http.StatusTooManyRequests:
		return &domain.FeedError{
			Kind:       domain.FeedRateLimited,
			StatusCode: status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        errors.New("too many requests: rate limited by the USGS API"),
		}
	case status >= 500:
		return &domain.FeedError{Kind: domain.FeedTransport, StatusCode: status,
			Err: fmt.Errorf("server error: USGS service temporarily unavailable: %s", detail)}
	case status == http.StatusBadRequest:
		return &domain.FeedError{Kind: domain.FeedProtocol, StatusCode: status,
			Err: fmt.Errorf("bad request: check query parameters: %s", detail)}
	case status == http.StatusNotFound:
		return &domain.FeedError{Kind: domain.FeedProtocol, StatusCode: status,
			Err: errors.New("not found: no earthquake data for the given query")}
	default:
		return &domain.FeedError{Kind: domain.FeedProtocol, StatusCode: status,
			Err: fmt.Errorf("unexpected response: %s", detail)}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date; anything else is 0.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
