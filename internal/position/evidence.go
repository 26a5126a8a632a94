package position

import (
	"math"
	"sort"
	"time"

	"dossier/internal/evidence"
	"dossier/internal/geo"
)

// Points reads the geolocation fixes carried by a position evidence. A record
// either is a single fix or holds a "positions" batch; batches are returned in
// time order. Fixes missing a coordinate or an accuracy are skipped, and a fix
// without its own time takes the evidence acquisition time.
func Points(ev *evidence.Evidence) []geo.Point {
	if ev == nil || ev.Payload == nil {
		return nil
	}
	if batch := ev.Payload.Objects("positions"); len(batch) > 0 {
		points := make([]geo.Point, 0, len(batch))
		for _, fix := range batch {
			if pt, ok := pointFrom(fix, ev.AcquiredAt); ok {
				points = append(points, pt)
			}
		}
		sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
		return points
	}
	if pt, ok := pointFrom(ev.Payload, ev.AcquiredAt); ok {
		return []geo.Point{pt}
	}
	return nil
}

func pointFrom(p evidence.Payload, fallback time.Time) (geo.Point, bool) {
	lat, ok := firstFloat(p, "latitude", "lat")
	if !ok || lat < -90 || lat > 90 {
		return geo.Point{}, false
	}
	lon, ok := firstFloat(p, "longitude", "lon")
	if !ok || lon < -180 || lon > 180 {
		return geo.Point{}, false
	}
	radius, ok := firstFloat(p, "accuracy", "radius")
	if !ok {
		return geo.Point{}, false
	}
	at, ok := p.Time("time")
	if !ok {
		at = fallback
	}
	return geo.NewPoint(lat, lon, radius, at), true
}

func firstFloat(p evidence.Payload, keys ...string) (float64, bool) {
	for _, key := range keys {
		if f, ok := p.Float(key); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}
