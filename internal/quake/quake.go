// Package quake holds the earthquake data model shared by the feed client,
// the broadcast hub and the consumer agent.
package quake

import "encoding/json"

// Collection is a GeoJSON feature collection as returned by the upstream feed.
type Collection struct {
	Type     string       `json:"type"`
	Metadata Metadata     `json:"metadata"`
	Features []Earthquake `json:"features"`
	BBox     []float64    `json:"bbox,omitempty"`
}

type Metadata struct {
	Generated string `json:"generated"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	API       string `json:"api"`
	Count     int    `json:"count"`
}

// Earthquake is one feature, flattened for consumers that do not want to
// walk the properties block.
type Earthquake struct {
	ID        string   `json:"id"`
	Magnitude float64  `json:"magnitude"`
	Place     string   `json:"place"`
	Time      string   `json:"time"`
	Updated   string   `json:"updated"`
	Tz        *int     `json:"tz,omitempty"`
	URL       string   `json:"url"`
	Detail    string   `json:"detail"`
	Felt      *int     `json:"felt,omitempty"`
	CDI       *float64 `json:"cdi,omitempty"`
	MMI       *float64 `json:"mmi,omitempty"`
	Alert     *string  `json:"alert,omitempty"`
	Status    string   `json:"status"`
	Tsunami   int      `json:"tsunami"`
	Sig       int      `json:"sig"`
	Net       string   `json:"net"`
	Code      string   `json:"code"`
	IDs       string   `json:"ids"`
	Sources   string   `json:"sources"`
	Types     string   `json:"types"`
	Nst       *int     `json:"nst,omitempty"`
	Dmin      *float64 `json:"dmin,omitempty"`
	RMS       *float64 `json:"rms,omitempty"`
	Gap       *float64 `json:"gap,omitempty"`
	MagType   string   `json:"magType"`
	EventType string   `json:"type"`
	Title     string   `json:"title"`

	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Properties mirrors the upstream properties block after defaults are applied.
type Properties struct {
	Mag       float64  `json:"mag"`
	Place     string   `json:"place"`
	Time      string   `json:"time"`
	Updated   string   `json:"updated"`
	Tz        *int     `json:"tz,omitempty"`
	URL       string   `json:"url"`
	Detail    string   `json:"detail"`
	Felt      *int     `json:"felt,omitempty"`
	CDI       *float64 `json:"cdi,omitempty"`
	MMI       *float64 `json:"mmi,omitempty"`
	Alert     *string  `json:"alert,omitempty"`
	Status    string   `json:"status"`
	Tsunami   int      `json:"tsunami"`
	Sig       int      `json:"sig"`
	Net       string   `json:"net"`
	Code      string   `json:"code"`
	IDs       string   `json:"ids"`
	Sources   string   `json:"sources"`
	Types     string   `json:"types"`
	Nst       *int     `json:"nst,omitempty"`
	Dmin      *float64 `json:"dmin,omitempty"`
	RMS       *float64 `json:"rms,omitempty"`
	Gap       *float64 `json:"gap,omitempty"`
	MagType   string   `json:"magType"`
	EventType string   `json:"type"`
	Title     string   `json:"title"`
}

// MarshalJSON writes an empty features array instead of null.
func (c Collection) MarshalJSON() ([]byte, error) {
	type plain Collection
	if c.Features == nil {
		c.Features = []Earthquake{}
	}
	return json.Marshal(plain(c))
}

// UnmarshalJSON leaves Features non-nil even when the input omits it.
func (c *Collection) UnmarshalJSON(b []byte) error {
	type plain Collection
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Features == nil {
		p.Features = []Earthquake{}
	}
	*c = Collection(p)
	return nil
}

// Query carries the optional filters accepted by the feed client.
type Query struct {
	Limit        int
	MinMagnitude *float64
	MaxMagnitude *float64
	StartTime    string
	EndTime      string
}
