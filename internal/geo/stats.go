package geo

import "github.com/JonMunkholm/wardrive/internal/schema"

// CoordinateKey identifies a coordinate by its exact float values.
type CoordinateKey struct {
	Lat, Lng float64
}

// ExactCoordinateKey returns the exact-equality key for a coordinate. No
// rounding is applied, so points a millimetre apart are distinct.
func ExactCoordinateKey(lat, lng float64) CoordinateKey {
	return CoordinateKey{Lat: lat, Lng: lng}
}

// Summarize computes duplicate statistics over records with a finite fix.
// DuplicateLocations counts the points beyond the first at each location.
// An empty input yields zero values.
func Summarize(records []schema.AccessPointRecord) schema.Stats {
	counts := make(map[CoordinateKey]int64)
	var total int64
	for _, rec := range records {
		if !rec.HasFix() {
			continue
		}
		total++
		counts[ExactCoordinateKey(rec.Latitude, rec.Longitude)]++
	}

	stats := schema.Stats{
		TotalPoints:        total,
		UniqueLocations:    int64(len(counts)),
		DuplicateLocations: total - int64(len(counts)),
	}
	for _, n := range counts {
		stats.MaxPointsPerLocation = max(stats.MaxPointsPerLocation, n)
	}
	return stats
}
