package geo

import (
	"strings"

	"github.com/JonMunkholm/wardrive/internal/schema"
)

// UnnamedLabel is shown for access points that broadcast an empty SSID.
const UnnamedLabel = "Unbenannt"

// LabelLatOffset lifts the label slightly above its marker.
const LabelLatOffset = 0.000001

// Marker colour classes keyed on the auth mode.
const (
	ColorWPA2     = "orange"
	ColorWPA2WPA3 = "red"
	ColorOpen     = "green"
	ColorOther    = "gray"
)

// authColors is checked in order; the first substring match wins.
var authColors = []struct {
	token string
	color string
}{
	{"WPA2_PSK", ColorWPA2},
	{"WPA2_WPA3_PSK", ColorWPA2WPA3},
	{"OPEN", ColorOpen},
}

// ColorForAuthMode classifies an auth mode string into a marker colour.
func ColorForAuthMode(authMode string) string {
	for _, ac := range authColors {
		if strings.Contains(authMode, ac.token) {
			return ac.color
		}
	}
	return ColorOther
}

// LabelFor returns the display label for a record.
func LabelFor(rec schema.AccessPointRecord) string {
	if strings.TrimSpace(rec.SSID) == "" {
		return UnnamedLabel
	}
	return rec.SSID
}

// Marker is one record placed for display.
type Marker struct {
	Position
	Label     string                   `json:"label"`
	LabelPos  Position                 `json:"label_position"`
	Color     string                   `json:"color"`
	Origin    Position                 `json:"origin"`
	GroupSize int                      `json:"group_size"`
	Record    schema.AccessPointRecord `json:"record"`
}

// Layout is the full marker set for one dataset.
type Layout struct {
	Points    int     `json:"points"`
	Locations int     `json:"locations"`
	Radius    float64 `json:"radius"`
	// Summary counts exact duplicates, which can differ from Locations.
	Summary schema.Stats `json:"summary"`
	Markers []Marker     `json:"markers"`
}

// BuildLayout groups records, spreads each group on a ring and emits one
// marker per record. A non-positive radius falls back to DefaultRingRadius.
func BuildLayout(records []schema.AccessPointRecord, radius float64) Layout {
	if radius <= 0 {
		radius = DefaultRingRadius
	}

	groups := Group(records)
	layout := Layout{
		Locations: len(groups),
		Radius:    radius,
		Summary:   Summarize(records),
		Markers:   make([]Marker, 0, len(records)),
	}

	for _, g := range groups {
		positions := Distribute(g.Lat, g.Lng, len(g.Points), radius)
		for i, rec := range g.Points {
			pos := positions[i]
			layout.Markers = append(layout.Markers, Marker{
				Position:  pos,
				Label:     LabelFor(rec),
				LabelPos:  Position{Lat: pos.Lat + LabelLatOffset, Lng: pos.Lng},
				Color:     ColorForAuthMode(rec.AuthMode),
				Origin:    Position{Lat: rec.Latitude, Lng: rec.Longitude},
				GroupSize: len(g.Points),
				Record:    rec,
			})
		}
	}
	layout.Points = len(layout.Markers)
	return layout
}
