package intensity

import (
	"sync"
	"time"

	"github.com/tenantguard/backend/internal/events"
)

// Trend directions.
const (
	TrendEscalating = "escalating"
	TrendImproving  = "improving"
	TrendStable     = "stable"
)

// trend thresholds and window sizes.
const (
	trendDelta      = 10.0
	trendRecentSize = 5
)

// Reading is one aggregate intensity observation.
type Reading struct {
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Report summarizes a user's current intensity state.
type Report struct {
	UserID    string          `json:"user_id"`
	Aggregate float64         `json:"aggregate"`
	Severity  events.Severity `json:"severity"`
	Trend     string          `json:"trend"`
	Delta     float64         `json:"delta"`
	Readings  int             `json:"readings"`
}

// Tracker keeps a rolling window of aggregate readings per user and derives
// the short-term trend. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	window  int
	byUser  map[string]*events.Ring[Reading]
}

// NewTracker creates a tracker with the given rolling window size
// (default 100).
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = 100
	}
	return &Tracker{
		window: window,
		byUser: make(map[string]*events.Ring[Reading]),
	}
}

// Record appends an aggregate reading for the user.
func (t *Tracker) Record(userID string, score float64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring, ok := t.byUser[userID]
	if !ok {
		ring = events.NewRing[Reading](t.window)
		t.byUser[userID] = ring
	}
	ring.Append(Reading{Score: score, At: at.UTC()})
}

// Trend compares the mean of the last five readings against the mean of all
// prior readings in the window. A delta above +10 escalates, below -10
// improves, anything else is stable.
func (t *Tracker) Trend(userID string) (direction string, delta float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ring, ok := t.byUser[userID]
	if !ok {
		return TrendStable, 0
	}
	readings := ring.Items()
	if len(readings) <= trendRecentSize {
		return TrendStable, 0
	}

	split := len(readings) - trendRecentSize
	prior := mean(readings[:split])
	recent := mean(readings[split:])
	delta = recent - prior

	switch {
	case delta > trendDelta:
		return TrendEscalating, delta
	case delta < -trendDelta:
		return TrendImproving, delta
	default:
		return TrendStable, delta
	}
}

// Report builds the intensity report for a user from the latest reading.
func (t *Tracker) Report(userID string) Report {
	t.mu.RLock()
	ring, ok := t.byUser[userID]
	var latest float64
	var count int
	if ok {
		count = ring.Len()
		if recent := ring.Recent(1); len(recent) == 1 {
			latest = recent[0].Score
		}
	}
	t.mu.RUnlock()

	direction, delta := t.Trend(userID)
	return Report{
		UserID:    userID,
		Aggregate: latest,
		Severity:  events.SeverityFor(latest),
		Trend:     direction,
		Delta:     delta,
		Readings:  count,
	}
}

func mean(rs []Reading) float64 {
	if len(rs) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rs {
		sum += r.Score
	}
	return sum / float64(len(rs))
}
