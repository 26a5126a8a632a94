// Package geo holds the immutable geolocation value types used by stay-point
// detection and the distance predicates that relate them.
package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371008.8

// Point is a single geolocation fix. Radius is the reported accuracy in metres.
type Point struct {
	Lat    float64   `json:"lat"`
	Lon    float64   `json:"lon"`
	Radius float64   `json:"radius"`
	Time   time.Time `json:"time"`
}

// NewPoint builds a Point; times are normalised to UTC.
func NewPoint(lat, lon, radius float64, at time.Time) Point {
	return Point{Lat: lat, Lon: lon, Radius: radius, Time: at.UTC()}
}

// StayPoint is a detected dwell interval. Radius is the tightest accuracy
// observed among the contributing points.
type StayPoint struct {
	Lat    float64   `json:"lat"`
	Lon    float64   `json:"lon"`
	Radius float64   `json:"radius"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Duration of the dwell.
func (s StayPoint) Duration() time.Duration { return s.End.Sub(s.Start) }

// Center returns the stay point as a timeless Point.
func (s StayPoint) Center() Point {
	return Point{Lat: s.Lat, Lon: s.Lon, Radius: s.Radius}
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Overlaps reports whether the accuracy circles of a and b intersect.
func Overlaps(a, b Point) bool {
	return Distance(a, b) <= a.Radius+b.Radius
}

// Contains reports whether b's center lies inside a's accuracy circle.
func Contains(a, b Point) bool {
	return Distance(a, b) <= a.Radius
}

// Similar is the symmetric containment check: one center inside the other circle.
func Similar(a, b Point) bool {
	return Contains(a, b) || Contains(b, a)
}
