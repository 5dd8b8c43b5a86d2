// Package geo turns flat access point records into map-ready layouts.
//
// Two coordinate identity policies exist and must not be mixed:
//
//   - DisplayGroupingKey rounds to 6 decimals (~0.1 m) and decides which
//     markers share a ring on the map.
//   - ExactCoordinateKey compares the raw float values and backs the
//     duplicate statistics.
package geo

import (
	"strconv"

	"github.com/JonMunkholm/wardrive/internal/schema"
)

// LocationGroup is a set of records that render at one coordinate.
type LocationGroup struct {
	Lat    float64
	Lng    float64
	Points []schema.AccessPointRecord
}

// DisplayGroupingKey formats both coordinates with exactly 6 decimals.
func DisplayGroupingKey(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
}

// Group partitions records by DisplayGroupingKey. Groups are returned in the
// order their key was first seen and each group keeps the input order of its
// points. The representative coordinate is the first member's. Records
// without a finite fix are dropped.
func Group(records []schema.AccessPointRecord) []LocationGroup {
	index := make(map[string]int)
	var groups []LocationGroup

	for _, rec := range records {
		if !rec.HasFix() {
			continue
		}
		key := DisplayGroupingKey(rec.Latitude, rec.Longitude)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, LocationGroup{Lat: rec.Latitude, Lng: rec.Longitude})
		}
		groups[i].Points = append(groups[i].Points, rec)
	}
	return groups
}
