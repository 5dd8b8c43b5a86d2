// Package schema holds the data model shared by the parser, the dataset
// stores and the spatial layout code.
package schema

import (
	"math"
	"strconv"
)

// LogColumns is the fixed positional layout of a wardrive log line.
var LogColumns = []string{
	"MAC", "SSID", "AuthMode", "FirstSeen", "Channel", "RSSI",
	"CurrentLatitude", "CurrentLongitude", "AltitudeMeters", "AccuracyMeters", "Type",
}

// HeaderToken is the first field of an embedded header row.
const HeaderToken = "MAC"

// AccessPointRecord is one observed access point at one point in time.
type AccessPointRecord struct {
	MACAddress string   `json:"mac_address"`
	SSID       string   `json:"ssid"`
	AuthMode   string   `json:"auth_mode"`
	FirstSeen  string   `json:"first_seen"`
	Channel    int      `json:"channel"`
	RSSI       int      `json:"rssi"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Altitude   *float64 `json:"altitude"`
	Accuracy   *float64 `json:"accuracy"`
	Type       string   `json:"type"`
}

// HasFix reports whether both coordinates are finite numbers.
func (r AccessPointRecord) HasFix() bool {
	return isFinite(r.Latitude) && isFinite(r.Longitude)
}

// Geometry returns the record position as a GeoJSON Point (lon, lat order).
func (r AccessPointRecord) Geometry() string {
	return `{"type":"Point","coordinates":[` +
		strconv.FormatFloat(r.Longitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.Latitude, 'f', -1, 64) + "]}"
}

// RecordView is the JSON shape served to map renderers.
type RecordView struct {
	AccessPointRecord
	Geometry string `json:"geometry"`
}

// Views attaches the GeoJSON geometry to each record.
func Views(records []AccessPointRecord) []RecordView {
	out := make([]RecordView, len(records))
	for i, r := range records {
		out[i] = RecordView{AccessPointRecord: r, Geometry: r.Geometry()}
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
