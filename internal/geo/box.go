package geo

import "math"

const metersPerDegreeLat = 111320.0

// Box is a latitude/longitude bounding box used to pre-filter store lookups.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoxAround returns a box that contains every point within meters of p.
func BoxAround(p Point, meters float64) Box {
	dLat := meters / metersPerDegreeLat
	cos := math.Cos(p.Lat * math.Pi / 180)
	dLon := 180.0
	if cos > 1e-9 {
		dLon = math.Min(180, meters/(metersPerDegreeLat*cos))
	}
	return Box{
		MinLat: math.Max(-90, p.Lat-dLat),
		MaxLat: math.Min(90, p.Lat+dLat),
		MinLon: p.Lon - dLon,
		MaxLon: p.Lon + dLon,
	}
}

// Includes reports whether p falls inside the box. Longitudes are compared
// without wrap-around; boxes crossing the antimeridian over-approximate.
func (b Box) Includes(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return true
	}
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}
