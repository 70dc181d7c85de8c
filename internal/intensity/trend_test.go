package intensity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tenantguard/backend/internal/events"
)

func TestTrendEscalating(t *testing.T) {
	tr := NewTracker(100)
	at := now
	for i := 0; i < 10; i++ {
		tr.Record("u1", 40, at)
		at = at.Add(time.Minute)
	}
	for i := 0; i < 5; i++ {
		tr.Record("u1", 75, at)
		at = at.Add(time.Minute)
	}

	direction, delta := tr.Trend("u1")
	assert.Equal(t, TrendEscalating, direction)
	assert.InDelta(t, 35, delta, 0.001)
}

func TestTrendImproving(t *testing.T) {
	tr := NewTracker(100)
	at := now
	for i := 0; i < 8; i++ {
		tr.Record("u1", 70, at)
		at = at.Add(time.Minute)
	}
	for i := 0; i < 5; i++ {
		tr.Record("u1", 30, at)
		at = at.Add(time.Minute)
	}

	direction, delta := tr.Trend("u1")
	assert.Equal(t, TrendImproving, direction)
	assert.InDelta(t, -40, delta, 0.001)
}

func TestTrendStableForSmallDelta(t *testing.T) {
	tr := NewTracker(100)
	at := now
	for i := 0; i < 10; i++ {
		tr.Record("u1", 50, at)
		at = at.Add(time.Minute)
	}
	for i := 0; i < 5; i++ {
		tr.Record("u1", 55, at)
		at = at.Add(time.Minute)
	}

	direction, delta := tr.Trend("u1")
	assert.Equal(t, TrendStable, direction)
	assert.InDelta(t, 5, delta, 0.001)
}

func TestTrendInsufficientReadings(t *testing.T) {
	tr := NewTracker(100)
	direction, delta := tr.Trend("missing")
	assert.Equal(t, TrendStable, direction)
	assert.Zero(t, delta)

	for i := 0; i < 5; i++ {
		tr.Record("u1", float64(20*i), now)
	}
	direction, delta = tr.Trend("u1")
	assert.Equal(t, TrendStable, direction)
	assert.Zero(t, delta)
}

func TestTrackerWindowBounded(t *testing.T) {
	tr := NewTracker(10)
	for i := 0; i < 50; i++ {
		tr.Record("u1", float64(i), now)
	}
	rep := tr.Report("u1")
	assert.Equal(t, 10, rep.Readings)
	assert.Equal(t, 49.0, rep.Aggregate)
}

func TestReport(t *testing.T) {
	tr := NewTracker(100)
	rep := tr.Report("nobody")
	assert.Equal(t, 0.0, rep.Aggregate)
	assert.Equal(t, events.SeverityInfo, rep.Severity)
	assert.Equal(t, TrendStable, rep.Trend)

	at := now
	for i := 0; i < 10; i++ {
		tr.Record("u2", 40, at)
		at = at.Add(time.Minute)
	}
	for i := 0; i < 5; i++ {
		tr.Record("u2", 85, at)
		at = at.Add(time.Minute)
	}
	rep = tr.Report("u2")
	assert.Equal(t, 85.0, rep.Aggregate)
	assert.Equal(t, events.SeverityCritical, rep.Severity)
	assert.Equal(t, TrendEscalating, rep.Trend)
	assert.Equal(t, 15, rep.Readings)
}
