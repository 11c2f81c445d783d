package usgs

import "sync"

type FeedID string

const (
	FeedSignificantMonth FeedID = "significant_month"
	FeedSignificantWeek  FeedID = "significant_week"
	FeedM45Day           FeedID = "4.5_day"
	FeedM45Week          FeedID = "4.5_week"
	FeedM25Day           FeedID = "2.5_day"
	FeedAllHour          FeedID = "all_hour"
	FeedAllDay           FeedID = "all_day"
)

type FeedInfo struct {
	ID   FeedID `json:"id"`
	Name string `json:"name"`
}

var Feeds = map[FeedID]FeedInfo{
	FeedSignificantMonth: {ID: FeedSignificantMonth, Name: "Significant earthquakes, past month"},
	FeedSignificantWeek:  {ID: FeedSignificantWeek, Name: "Significant earthquakes, past week"},
	FeedM45Day:           {ID: FeedM45Day, Name: "M4.5+ earthquakes, past day"},
	FeedM45Week:          {ID: FeedM45Week, Name: "M4.5+ earthquakes, past week"},
	FeedM25Day:           {ID: FeedM25Day, Name: "M2.5+ earthquakes, past day"},
	FeedAllHour:          {ID: FeedAllHour, Name: "All earthquakes, past hour"},
	FeedAllDay:           {ID: FeedAllDay, Name: "All earthquakes, past day"},
}

// FeedIDs returns the feed IDs in a stable display order.
func FeedIDs() []FeedID {
	return []FeedID{
		FeedSignificantMonth,
		FeedSignificantWeek,
		FeedM45Day,
		FeedM45Week,
		FeedM25Day,
		FeedAllHour,
		FeedAllDay,
	}
}

// ValidFeed reports whether id names a known summary feed.
func ValidFeed(id FeedID) bool {
	_, ok := Feeds[id]
	return ok
}

// FeedSelector holds the summary feed the client currently reads from.
type FeedSelector struct {
	mu      sync.RWMutex
	current FeedID
}

func NewFeedSelector(initial FeedID) *FeedSelector {
	if !ValidFeed(initial) {
		initial = FeedSignificantMonth
	}
	return &FeedSelector{current: initial}
}

func (s *FeedSelector) Current() FeedID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set switches the feed. Unknown IDs are rejected and leave the selection as is.
func (s *FeedSelector) Set(id FeedID) bool {
	if !ValidFeed(id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
	return true
}
