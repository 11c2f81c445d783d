package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/galadrimteam/quakewatch/internal/quake"
	"github.com/galadrimteam/quakewatch/internal/usgs"
)

const (
	fetchFailedMessage = "Failed to fetch earthquake data"
	maxLimit           = 1000
)

func (s server) handleListEarthquakes(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	coll, err := s.quakes.FetchEarthquakes(r.Context(), q)
	if err != nil {
		s.logger.Error("fetch earthquakes failed", "error", err)
		writeError(w, http.StatusBadGateway, fetchFailedMessage)
		return
	}
	writeJSON(w, http.StatusOK, coll)
}

func (s server) handleGetEarthquake(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	eq, err := s.quakes.FetchEarthquake(r.Context(), id)
	if errors.Is(err, usgs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "earthquake not found")
		return
	}
	if err != nil {
		s.logger.Error("fetch earthquake failed", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, fetchFailedMessage)
		return
	}
	writeJSON(w, http.StatusOK, eq)
}

func parseQuery(r *http.Request) (quake.Query, error) {
	v := r.URL.Query()
	var q quake.Query

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("limit must be a positive integer")
		}
		q.Limit = min(n, maxLimit)
	}
	for _, p := range []struct {
		key string
		dst **float64
	}{
		{"minMagnitude", &q.MinMagnitude},
		{"maxMagnitude", &q.MaxMagnitude},
	} {
		s := v.Get(p.key)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return q, fmt.Errorf("%s must be a number", p.key)
		}
		*p.dst = &f
	}
	if q.MinMagnitude != nil && q.MaxMagnitude != nil && *q.MinMagnitude > *q.MaxMagnitude {
		return q, fmt.Errorf("minMagnitude must not exceed maxMagnitude")
	}
	for _, p := range []struct {
		key string
		dst *string
	}{
		{"startTime", &q.StartTime},
		{"endTime", &q.EndTime},
	} {
		s := v.Get(p.key)
		if s == "" {
			continue
		}
		if !validTime(s) {
			return q, fmt.Errorf("%s must be an ISO 8601 date or timestamp", p.key)
		}
		*p.dst = s
	}
	return q, nil
}

func validTime(s string) bool {
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

type feedsResponse struct {
	Feeds   []usgs.FeedInfo `json:"feeds"`
	Current usgs.FeedID     `json:"current"`
}

func (s server) handleGetFeeds(w http.ResponseWriter, r *http.Request) {
	feeds := make([]usgs.FeedInfo, 0, len(usgs.Feeds))
	for _, id := range usgs.FeedIDs() {
		feeds = append(feeds, usgs.Feeds[id])
	}
	writeJSON(w, http.StatusOK, feedsResponse{Feeds: feeds, Current: s.feeds.Current()})
}

type setFeedRequest struct {
	Feed usgs.FeedID `json:"feed"`
}

type setFeedResponse struct {
	Success bool        `json:"success"`
	Current usgs.FeedID `json:"current"`
	Name    string      `json:"name"`
}

func (s server) handleSetFeed(w http.ResponseWriter, r *http.Request) {
	var req setFeedRequest
	if !readJSONLimited(w, r, &req, 1<<12) {
		return
	}
	if !s.feeds.Set(req.Feed) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown feed %q", req.Feed))
		return
	}

	info := usgs.Feeds[req.Feed]
	u, _ := userFromCtx(r.Context())
	s.logger.Info("feed changed", "feed", info.ID, "name", info.Name, "by", u.Username)
	writeJSON(w, http.StatusOK, setFeedResponse{Success: true, Current: req.Feed, Name: info.Name})
}
