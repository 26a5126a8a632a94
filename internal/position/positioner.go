// Package position detects stay points in a stream of geolocation fixes and
// folds them into per-day position buckets.
package position

import (
	"time"

	"dossier/internal/geo"
)

const (
	DefaultWindowSize    = 5
	DefaultMinimumDwell  = 600 * time.Second
	DefaultMaximumRadius = 500.0
)

// Stats counts what happened to fed points over the positioner's lifetime.
type Stats struct {
	Accepted  int `json:"accepted"`
	Discarded int `json:"discarded"`
	Stale     int `json:"stale"`
	Emitted   int `json:"emitted"`
}

// Option configures a Positioner.
type Option func(*Positioner)

// WithWindowSize bounds how many recent points of the open candidate are kept
// for the extend test.
func WithWindowSize(n int) Option {
	return func(p *Positioner) {
		if n > 0 {
			p.windowSize = n
		}
	}
}

// WithMinimumDwell sets how long a candidate must span to qualify.
func WithMinimumDwell(d time.Duration) Option {
	return func(p *Positioner) {
		if d > 0 {
			p.minimumDwell = d
		}
	}
}

// WithMaximumRadius sets the accuracy above which fixes are ignored.
func WithMaximumRadius(meters float64) Option {
	return func(p *Positioner) {
		if meters > 0 {
			p.maximumRadius = meters
		}
	}
}

type candidate struct {
	best  geo.Point
	start time.Time
	end   time.Time
}

// Positioner is an online stay-point detector. It is not safe for concurrent
// use; callers serialise feeds per (subject, agent) and round-trip its state
// with Dump and Restore.
type Positioner struct {
	windowSize    int
	minimumDwell  time.Duration
	maximumRadius float64

	window    []geo.Point
	candidate *candidate
	last      time.Time
	stats     Stats
}

// New creates a Positioner with default tunables overridden by opts.
func New(opts ...Option) *Positioner {
	p := &Positioner{
		windowSize:    DefaultWindowSize,
		minimumDwell:  DefaultMinimumDwell,
		maximumRadius: DefaultMaximumRadius,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed pushes pt and calls emit when it closes a qualifying candidate.
// Points older than the last accepted one are counted as stale and ignored.
func (p *Positioner) Feed(pt geo.Point, emit func(geo.StayPoint)) {
	if pt.Radius < 0 || pt.Radius > p.maximumRadius {
		p.stats.Discarded++
		return
	}
	if !p.last.IsZero() && pt.Time.Before(p.last) {
		p.stats.Stale++
		return
	}
	p.last = pt.Time
	p.stats.Accepted++

	if p.candidate == nil {
		p.open(pt)
		return
	}
	if p.extends(pt) {
		p.extend(pt)
		return
	}
	p.close(emit)
	p.open(pt)
}

// Flush closes the open candidate at end of stream.
func (p *Positioner) Flush(emit func(geo.StayPoint)) {
	if p.candidate == nil {
		return
	}
	p.close(emit)
	p.window = nil
}

// Stats returns the lifetime counters.
func (p *Positioner) Stats() Stats { return p.stats }

// MaximumRadius is the largest fix accuracy the detector accepts, in meters.
func (p *Positioner) MaximumRadius() float64 { return p.maximumRadius }

func (p *Positioner) open(pt geo.Point) {
	p.candidate = &candidate{best: pt, start: pt.Time, end: pt.Time}
	p.window = append(p.window[:0], pt)
}

func (p *Positioner) extends(pt geo.Point) bool {
	if geo.Overlaps(p.candidate.best, pt) {
		return true
	}
	for _, w := range p.window {
		if geo.Overlaps(w, pt) {
			return true
		}
	}
	return false
}

func (p *Positioner) extend(pt geo.Point) {
	c := p.candidate
	if pt.Radius < c.best.Radius {
		c.best = pt
	}
	if pt.Time.After(c.end) {
		c.end = pt.Time
	}
	p.window = append(p.window, pt)
	if over := len(p.window) - p.windowSize; over > 0 {
		p.window = append(p.window[:0], p.window[over:]...)
	}
}

func (p *Positioner) close(emit func(geo.StayPoint)) {
	c := p.candidate
	p.candidate = nil
	if !c.end.After(c.start) || c.end.Sub(c.start) < p.minimumDwell {
		return
	}
	p.stats.Emitted++
	if emit != nil {
		emit(geo.StayPoint{
			Lat:    c.best.Lat,
			Lon:    c.best.Lon,
			Radius: c.best.Radius,
			Start:  c.start,
			End:    c.end,
		})
	}
}
