package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossier/internal/geo"
)

var base = time.Date(2024, 3, 1, 7, 37, 43, 0, time.UTC)

func at(lat, lon, radius float64, offset time.Duration) geo.Point {
	return geo.NewPoint(lat, lon, radius, base.Add(offset))
}

func run(p *Positioner, points []geo.Point) []geo.StayPoint {
	var out []geo.StayPoint
	emit := func(sp geo.StayPoint) { out = append(out, sp) }
	for _, pt := range points {
		p.Feed(pt, emit)
	}
	p.Flush(emit)
	return out
}

// dwellSequence is four precise fixes over three minutes interleaved with
// cell-tower fixes far away.
func dwellSequence() []geo.Point {
	return []geo.Point{
		at(45.5150, 9.5873, 10, 0),
		at(45.7000, 9.9000, 3500, 30*time.Second),
		at(45.5149, 9.5873, 10, time.Minute),
		at(45.7000, 9.9000, 3500, 90*time.Second),
		at(45.5149, 9.5873, 10, 2*time.Minute),
		at(45.7000, 9.9000, 3500, 150*time.Second),
		at(45.5149, 9.5873, 10, 3*time.Minute),
	}
}

func TestPositioner_MinimumDwell(t *testing.T) {
	t.Run("dwell above the threshold emits once", func(t *testing.T) {
		got := run(New(WithMinimumDwell(180*time.Second)), dwellSequence())
		require.Len(t, got, 1)
		assert.Equal(t, base, got[0].Start)
		assert.Equal(t, base.Add(3*time.Minute), got[0].End)
		assert.Equal(t, 10.0, got[0].Radius)
		assert.Equal(t, 45.5150, got[0].Lat)
	})

	t.Run("default threshold emits nothing", func(t *testing.T) {
		p := New()
		assert.Empty(t, run(p, dwellSequence()))
		assert.Equal(t, 3, p.Stats().Discarded)
		assert.Equal(t, 4, p.Stats().Accepted)
	})
}

func TestPositioner_RadiusFilter(t *testing.T) {
	coarse := []geo.Point{
		at(45.7000, 9.9000, 3500, 0),
		at(45.7010, 9.9000, 3500, 5*time.Minute),
		at(45.7000, 9.9010, 3500, 15*time.Minute),
	}

	assert.Empty(t, run(New(WithMaximumRadius(500)), coarse))
	assert.Equal(t, DefaultMaximumRadius, New(WithMaximumRadius(-1)).MaximumRadius())

	got := run(New(WithMaximumRadius(3500)), coarse)
	require.Len(t, got, 1)
	assert.Equal(t, 15*time.Minute, got[0].Duration())
}

func TestPositioner_GapProducesTwoStayPoints(t *testing.T) {
	points := []geo.Point{
		at(45.0, 9.0, 20, 0),
		at(45.0, 9.0, 20, 5*time.Minute),
		at(45.0, 9.0, 20, 12*time.Minute),
		// passing through, never qualifies
		at(45.5, 9.5, 20, time.Hour),
		at(46.0, 10.0, 20, 2*time.Hour),
		at(46.0, 10.0, 15, 2*time.Hour+5*time.Minute),
		at(46.0, 10.0, 20, 2*time.Hour+11*time.Minute),
	}

	got := run(New(), points)
	require.Len(t, got, 2)
	assert.Equal(t, 45.0, got[0].Lat)
	assert.Equal(t, 46.0, got[1].Lat)
	assert.Equal(t, 15.0, got[1].Radius)
	assert.True(t, got[0].End.Before(got[1].Start))
}

func TestPositioner_GapAloneDoesNotClose(t *testing.T) {
	got := run(New(), []geo.Point{
		at(45.0, 9.0, 20, 0),
		at(45.0, 9.0, 20, 3*time.Hour),
	})
	require.Len(t, got, 1)
	assert.Equal(t, 3*time.Hour, got[0].Duration())
}

func TestPositioner_Extend(t *testing.T) {
	t.Run("a smaller radius becomes the representative", func(t *testing.T) {
		got := run(New(WithMinimumDwell(time.Minute)), []geo.Point{
			at(45.0, 9.0, 50, 0),
			at(45.0001, 9.0, 5, time.Minute),
			at(45.0, 9.0001, 30, 2*time.Minute),
		})
		require.Len(t, got, 1)
		assert.Equal(t, 45.0001, got[0].Lat)
		assert.Equal(t, 5.0, got[0].Radius)
		assert.Equal(t, base, got[0].Start)
		assert.Equal(t, base.Add(2*time.Minute), got[0].End)
	})

	t.Run("overlap with a window point extends", func(t *testing.T) {
		// third fix is out of reach of the representative but overlaps the second
		got := run(New(WithMinimumDwell(time.Minute)), []geo.Point{
			at(45.0, 9.0, 10, 0),
			at(45.00135, 9.0, 150, time.Minute),
			at(45.0027, 9.0, 150, 2*time.Minute),
		})
		require.Len(t, got, 1)
		assert.Equal(t, 2*time.Minute, got[0].Duration())
	})

	t.Run("a single fix never qualifies", func(t *testing.T) {
		assert.Empty(t, run(New(WithMinimumDwell(time.Nanosecond)), []geo.Point{at(45, 9, 10, 0)}))
	})
}

func TestPositioner_StalePoints(t *testing.T) {
	p := New(WithMinimumDwell(time.Minute))
	got := run(p, []geo.Point{
		at(45.0, 9.0, 10, 2*time.Minute),
		at(46.0, 9.0, 10, time.Minute),
		at(45.0, 9.0, 10, 4*time.Minute),
	})
	require.Len(t, got, 1)
	assert.Equal(t, 1, p.Stats().Stale)
	assert.Equal(t, 1, p.Stats().Emitted)
}

func TestPositioner_Resumability(t *testing.T) {
	points := []geo.Point{
		at(45.0, 9.0, 20, 0),
		at(45.0, 9.0, 10, 4*time.Minute),
		at(47.0, 9.0, 4000, 5*time.Minute),
		at(45.0, 9.0, 20, 11*time.Minute),
		at(45.5, 9.5, 20, time.Hour),
		at(46.0, 10.0, 20, 2*time.Hour),
		at(46.0, 10.0, 20, 2*time.Hour+20*time.Minute),
	}
	want := run(New(), points)
	require.Len(t, want, 2)

	for split := 0; split <= len(points); split++ {
		first := New()
		var got []geo.StayPoint
		emit := func(sp geo.StayPoint) { got = append(got, sp) }
		for _, pt := range points[:split] {
			first.Feed(pt, emit)
		}
		blob, err := first.Dump()
		require.NoError(t, err)

		resumed := New()
		require.NoError(t, resumed.Restore(blob))
		assert.Equal(t, first.Stats(), resumed.Stats())
		for _, pt := range points[split:] {
			resumed.Feed(pt, emit)
		}
		resumed.Flush(emit)

		assert.Equal(t, want, got, "split at %d", split)
	}
}
