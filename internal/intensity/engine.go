// Package intensity implements deterministic urgency scoring: per-event
// scores, per-user aggregates and short-term trend detection. The package
// does no I/O and emits no events; same inputs always produce the same
// outputs.
package intensity

import (
	"math"
	"sort"
	"time"

	"github.com/tenantguard/backend/internal/events"
)

// baseScores is the base urgency per event key. Unknown keys fall back to
// the "unknown" entry.
var baseScores = map[string]float64{
	"eviction_notice":    85,
	"notice_to_quit":     80,
	"court_summons":      90,
	"pay_or_quit":        75,
	"lease_violation":    60,
	"rent_increase":      45,
	"lease":              20,
	"rent_receipt":       15,
	"repair_request":     40,
	"photo_evidence":     20,
	"communication":      25,
	"eviction_threat":    85,
	"habitability_issue": 55,
	"illegal_lockout":    95,
	"harassment":         65,
	"retaliation":        70,
	"deposit_dispute":    50,
	"rent_dispute":       55,
	"repair_ignored":     45,
	"unknown":            30,
}

// BaseScore returns the base urgency for an event key.
func BaseScore(key string) float64 {
	if s, ok := baseScores[key]; ok {
		return s
	}
	return baseScores["unknown"]
}

// aggregate weights for the top scores, highest first.
var topWeights = []float64{1.0, 0.9, 0.8, 0.7, 0.6}

// Input carries everything the per-event score depends on.
type Input struct {
	// Deadline, when non-zero, applies the days-remaining multiplier
	// relative to Now.
	Deadline time.Time
	// ActiveIssues is the size of the user's active issue set.
	ActiveIssues int
	// RightsAtRisk is the size of the user's rights-at-risk set.
	RightsAtRisk int
	Phase        events.Phase
	Now          time.Time
	// Factors are additional multipliers supplied by the caller.
	Factors []float64
}

// Score computes the urgency of one event key under the given input,
// clamped to [0, 100].
func Score(key string, in Input) float64 {
	score := BaseScore(key)

	if !in.Deadline.IsZero() {
		score *= DeadlineMultiplier(in.Deadline, in.Now)
	}
	if in.ActiveIssues > 1 {
		score *= 1 + 0.10*float64(in.ActiveIssues)
	}
	score *= 1 + 0.15*float64(in.RightsAtRisk)
	score *= PhaseMultiplier(in.Phase)
	for _, f := range in.Factors {
		score *= f
	}

	return clamp(score)
}

// DeadlineMultiplier scales urgency by days remaining until the deadline.
// Past-due deadlines use 1.5 regardless of how far past; a deadline at
// exactly 30 days uses 1.00.
func DeadlineMultiplier(deadline, now time.Time) float64 {
	d := daysUntil(deadline, now)
	switch {
	case d < 0:
		return 1.5
	case d == 0:
		return 1.4
	case d == 1:
		return 1.35
	case d <= 3:
		return 1.25
	case d <= 7:
		return 1.15
	case d <= 14:
		return 1.05
	case d <= 30:
		return 1.00
	case d <= 60:
		return 0.80
	default:
		return 0.60
	}
}

// daysUntil truncates toward zero, so anything within the next 24h counts as
// day zero and anything in the past is negative.
func daysUntil(deadline, now time.Time) int {
	diff := deadline.Sub(now)
	if diff < 0 {
		return -1
	}
	return int(diff.Hours() / 24)
}

// PhaseMultiplier scales urgency by the user's situation bucket.
func PhaseMultiplier(p events.Phase) float64 {
	switch p {
	case events.PhaseEviction:
		return 1.3
	case events.PhaseDispute:
		return 1.2
	case events.PhaseIssueEmerging:
		return 1.1
	case events.PhasePostTenancy:
		return 1.1
	case events.PhasePreMoveIn:
		return 0.9
	default:
		return 1.0
	}
}

// AggregateInput is the slice of user state the aggregate score depends on.
type AggregateInput struct {
	Issues       []events.Issue
	Deadlines    []events.Deadline
	RightsAtRisk int
	Phase        events.Phase
	Now          time.Time
}

// Aggregate scores every active issue and every deadline, then takes the
// weighted average of the top five scores. An empty context aggregates to 0.
func Aggregate(in AggregateInput) float64 {
	scores := make([]float64, 0, len(in.Issues)+len(in.Deadlines))

	for _, issue := range in.Issues {
		scores = append(scores, Score(issue.Type, Input{
			ActiveIssues: len(in.Issues),
			RightsAtRisk: in.RightsAtRisk,
			Phase:        in.Phase,
			Now:          in.Now,
		}))
	}
	for _, dl := range in.Deadlines {
		scores = append(scores, Score(dl.Type, Input{
			Deadline:     dl.Date,
			ActiveIssues: len(in.Issues),
			RightsAtRisk: in.RightsAtRisk,
			Phase:        in.Phase,
			Now:          in.Now,
		}))
	}

	if len(scores) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	var sum, weightSum float64
	for i, s := range scores {
		if i >= len(topWeights) {
			break
		}
		sum += s * topWeights[i]
		weightSum += topWeights[i]
	}
	return clamp(sum / weightSum)
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
