package contextloop

import "github.com/tenantguard/backend/internal/events"

// evictionIssues are the issue types that force the eviction phase on their
// own.
var evictionIssues = map[string]bool{
	"eviction_threat": true,
	"notice_to_quit":  true,
	"eviction_notice": true,
}

// computePhase applies the rule table top to bottom; the first matching row
// wins.
func computePhase(c *UserContext) events.Phase {
	for _, issue := range c.ActiveIssues {
		if evictionIssues[issue.Type] {
			return events.PhaseEviction
		}
	}
	if c.IntensityScore >= 80 {
		return events.PhaseEviction
	}
	if c.IntensityScore >= 50 || len(c.ActiveIssues) >= 2 {
		return events.PhaseDispute
	}
	if len(c.ActiveIssues) >= 1 {
		return events.PhaseIssueEmerging
	}
	if c.DocumentTypes["moved_out"] || c.DocumentTypes["deposit_demand"] {
		return events.PhasePostTenancy
	}
	return events.PhaseActive
}

// nextPhase guards the downgrade path: eviction is sticky until an explicit
// issue_resolved event clears the triggering issues.
func nextPhase(c *UserContext, trigger events.Type) events.Phase {
	computed := computePhase(c)
	if c.Phase == events.PhaseEviction && computed != events.PhaseEviction && trigger != events.EventIssueResolved {
		return events.PhaseEviction
	}
	return computed
}
