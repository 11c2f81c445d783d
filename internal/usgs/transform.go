package usgs

import (
	"time"

	"github.com/galadrimteam/quakewatch/internal/quake"
)

type rawCollection struct {
	Type     string       `json:"type"`
	Metadata rawMetadata  `json:"metadata"`
	Features []rawFeature `json:"features"`
	BBox     []float64    `json:"bbox"`
}

type rawMetadata struct {
	Generated int64  `json:"generated"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	API       string `json:"api"`
	Count     int    `json:"count"`
}

type rawFeature struct {
	ID         string         `json:"id"`
	Properties rawProperties  `json:"properties"`
	Geometry   quake.Geometry `json:"geometry"`
}

type rawProperties struct {
	Mag     *float64 `json:"mag"`
	Place   *string  `json:"place"`
	Time    int64    `json:"time"`
	Updated int64    `json:"updated"`
	Tz      *int     `json:"tz"`
	URL     *string  `json:"url"`
	Detail  *string  `json:"detail"`
	Felt    *int     `json:"felt"`
	CDI     *float64 `json:"cdi"`
	MMI     *float64 `json:"mmi"`
	Alert   *string  `json:"alert"`
	Status  *string  `json:"status"`
	Tsunami *int     `json:"tsunami"`
	Sig     *int     `json:"sig"`
	Net     *string  `json:"net"`
	Code    *string  `json:"code"`
	IDs     *string  `json:"ids"`
	Sources *string  `json:"sources"`
	Types   *string  `json:"types"`
	Nst     *int     `json:"nst"`
	Dmin    *float64 `json:"dmin"`
	RMS     *float64 `json:"rms"`
	Gap     *float64 `json:"gap"`
	MagType *string  `json:"magType"`
	Type    *string  `json:"type"`
	Title   *string  `json:"title"`
}

const isoMillis = "2006-01-02T15:04:05.000Z"

func metadata(m rawMetadata) quake.Metadata {
	return quake.Metadata{
		Generated: isoTime(m.Generated),
		URL:       m.URL,
		Title:     m.Title,
		Status:    m.Status,
		API:       m.API,
		Count:     m.Count,
	}
}

func transform(f rawFeature) quake.Earthquake {
	p := f.Properties
	props := quake.Properties{
		Mag:       orFloat(p.Mag, 0),
		Place:     orString(p.Place, "Unknown location"),
		Time:      isoTime(p.Time),
		Updated:   isoTime(p.Updated),
		Tz:        p.Tz,
		URL:       orString(p.URL, ""),
		Detail:    orString(p.Detail, ""),
		Felt:      p.Felt,
		CDI:       p.CDI,
		MMI:       p.MMI,
		Alert:     p.Alert,
		Status:    orString(p.Status, "automatic"),
		Tsunami:   orInt(p.Tsunami, 0),
		Sig:       orInt(p.Sig, 0),
		Net:       orString(p.Net, ""),
		Code:      orString(p.Code, ""),
		IDs:       orString(p.IDs, ""),
		Sources:   orString(p.Sources, ""),
		Types:     orString(p.Types, ""),
		Nst:       p.Nst,
		Dmin:      p.Dmin,
		RMS:       p.RMS,
		Gap:       p.Gap,
		MagType:   orString(p.MagType, "unknown"),
		EventType: orString(p.Type, "earthquake"),
		Title:     orString(p.Title, ""),
	}
	coords := f.Geometry.Coordinates
	if coords == nil {
		coords = []float64{}
	}
	return quake.Earthquake{
		ID:         f.ID,
		Magnitude:  props.Mag,
		Place:      props.Place,
		Time:       props.Time,
		Updated:    props.Updated,
		Tz:         props.Tz,
		URL:        props.URL,
		Detail:     props.Detail,
		Felt:       props.Felt,
		CDI:        props.CDI,
		MMI:        props.MMI,
		Alert:      props.Alert,
		Status:     props.Status,
		Tsunami:    props.Tsunami,
		Sig:        props.Sig,
		Net:        props.Net,
		Code:       props.Code,
		IDs:        props.IDs,
		Sources:    props.Sources,
		Types:      props.Types,
		Nst:        props.Nst,
		Dmin:       props.Dmin,
		RMS:        props.RMS,
		Gap:        props.Gap,
		MagType:    props.MagType,
		EventType:  props.EventType,
		Title:      props.Title,
		Geometry:   quake.Geometry{Type: f.Geometry.Type, Coordinates: coords},
		Properties: props,
	}
}

func isoTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoMillis)
}

// The upstream uses 0 and "" interchangeably with null; both fall back.
func orString(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

func orFloat(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func orInt(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
