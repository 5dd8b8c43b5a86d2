package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultRingRadius is the ring radius in degrees (~2 m at mid latitudes).
const DefaultRingRadius = 0.00002

// Position is a rendered display coordinate.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distribute places count points evenly on a circle of radius degrees around
// the center. Point i sits at angle 2*pi*i/count with the latitude offset on
// the cosine and the longitude offset on the sine. A single point stays at
// the center and count <= 0 yields nothing.
//
// The radius is a plain offset in degrees; no latitude correction is applied.
func Distribute(centerLat, centerLng float64, count int, radius float64) []Position {
	if count <= 0 {
		return nil
	}
	if count == 1 {
		return []Position{{Lat: centerLat, Lng: centerLng}}
	}

	// X carries latitude and Y longitude.
	center := r2.Vec{X: centerLat, Y: centerLng}
	out := make([]Position, count)
	for i := range count {
		theta := 2 * math.Pi * float64(i) / float64(count)
		unit := r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
		p := r2.Add(center, r2.Scale(radius, unit))
		out[i] = Position{Lat: p.X, Lng: p.Y}
	}
	return out
}
