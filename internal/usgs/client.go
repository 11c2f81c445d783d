// Package usgs fetches earthquake collections from the USGS GeoJSON summary
// and detail feeds.
package usgs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
)

const DefaultBaseURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0"

var ErrNotFound = errors.New("usgs: earthquake not found")

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usgs: upstream error: %s", e.Status)
}

type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	feeds      *FeedSelector
}

func NewClient(baseURL string, feeds *FeedSelector, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if feeds == nil {
		feeds = NewFeedSelector(FeedSignificantMonth)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		feeds:      feeds,
	}
}

func (c *Client) Feeds() *FeedSelector {
	return c.feeds
}

// FetchEarthquakes reads the currently selected summary feed. The summary
// feeds ignore query parameters, so magnitude bounds and the limit are applied
// again after the response is transformed.
func (c *Client) FetchEarthquakes(ctx context.Context, q quake.Query) (*quake.Collection, error) {
	feed := c.feeds.Current()
	u := fmt.Sprintf("%s/summary/%s.geojson", c.baseURL, feed)
	if qs := encodeQuery(q); qs != "" {
		u += "?" + qs
	}

	var raw rawCollection
	if err := c.getJSON(ctx, u, &raw); err != nil {
		c.logger.Warn("fetch earthquake feed failed", "feed", feed, "error", err)
		return nil, err
	}

	coll := &quake.Collection{
		Type:     raw.Type,
		Metadata: metadata(raw.Metadata),
		Features: make([]quake.Earthquake, 0, len(raw.Features)),
		BBox:     raw.BBox,
	}
	for _, f := range raw.Features {
		eq := transform(f)
		if !matches(eq, q) {
			continue
		}
		coll.Features = append(coll.Features, eq)
		if q.Limit > 0 && len(coll.Features) == q.Limit {
			break
		}
	}
	coll.Metadata.Count = len(coll.Features)
	return coll, nil
}

// FetchEarthquake reads a single event from the detail feed.
func (c *Client) FetchEarthquake(ctx context.Context, id string) (*quake.Earthquake, error) {
	u := fmt.Sprintf("%s/detail/%s.geojson", c.baseURL, url.PathEscape(id))

	var f rawFeature
	err := c.getJSON(ctx, u, &f)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		c.logger.Warn("fetch earthquake detail failed", "id", id, "error", err)
		return nil, err
	}
	if f.ID == "" {
		return nil, ErrNotFound
	}
	eq := transform(f)
	return &eq, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("usgs: build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("usgs: request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("usgs: decode response: %w", err)
	}
	return nil
}

func encodeQuery(q quake.Query) string {
	v := url.Values{}
	if q.StartTime != "" {
		v.Set("starttime", q.StartTime)
	}
	if q.EndTime != "" {
		v.Set("endtime", q.EndTime)
	}
	if q.MinMagnitude != nil {
		v.Set("minmagnitude", strconv.FormatFloat(*q.MinMagnitude, 'f', -1, 64))
	}
	if q.MaxMagnitude != nil {
		v.Set("maxmagnitude", strconv.FormatFloat(*q.MaxMagnitude, 'f', -1, 64))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v.Encode()
}

func matches(eq quake.Earthquake, q quake.Query) bool {
	if q.MinMagnitude != nil && eq.Magnitude < *q.MinMagnitude {
		return false
	}
	if q.MaxMagnitude != nil && eq.Magnitude > *q.MaxMagnitude {
		return false
	}
	return true
}
