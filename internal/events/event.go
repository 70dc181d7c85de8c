// Package events defines the typed event model and the in-process event bus
// that every other component communicates through.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies event categories. The set is closed: reducers, the
// intensity engine, and the websocket stream all switch on these values.
type Type string

const (
	// Document pipeline events.
	EventDocumentAdded      Type = "document_added"
	EventDocumentProcessed  Type = "document_processed"
	EventDocumentClassified Type = "document_classified"
	EventEventsExtracted    Type = "events_extracted"

	// Case/state events.
	EventCaseInfoUpdated Type = "case_info_updated"
	EventViolationFound  Type = "violation_found"
	EventTimelineUpdated Type = "timeline_updated"

	// Loop-internal events.
	EventDocumentUploaded    Type = "document_uploaded"
	EventDocumentAnalyzed    Type = "document_analyzed"
	EventIssueDetected       Type = "issue_detected"
	EventIssueResolved       Type = "issue_resolved"
	EventDeadlineApproaching Type = "deadline_approaching"
	EventDeadlinePassed      Type = "deadline_passed"
	EventActionTaken         Type = "action_taken"
	EventPhaseChanged        Type = "phase_changed"
	EventLawMatched          Type = "law_matched"
	EventUserDismissed       Type = "user_dismissed"
	EventPredictionMade      Type = "prediction_made"
	EventIntensitySpike      Type = "intensity_spike"
	EventUIRefreshNeeded     Type = "ui_refresh_needed"

	// Vault access audit events carry no content payload.
	EventAccessAudit Type = "access_audit"
)

// Severity is the categorical projection of an intensity score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SeverityFor maps an intensity score onto its severity bucket.
func SeverityFor(intensity float64) Severity {
	switch {
	case intensity >= 80:
		return SeverityCritical
	case intensity >= 60:
		return SeverityHigh
	case intensity >= 40:
		return SeverityMedium
	case intensity >= 20:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Phase is the coarse situation bucket for a user. It drives UI emphasis and
// the intensity engine's phase multiplier.
type Phase string

const (
	PhasePreMoveIn     Phase = "pre_move_in"
	PhaseActive        Phase = "active"
	PhaseIssueEmerging Phase = "issue_emerging"
	PhaseDispute       Phase = "dispute"
	PhaseEviction      Phase = "eviction"
	PhaseMoveOut       Phase = "move_out"
	PhasePostTenancy   Phase = "post_tenancy"
)

// Event is one atomic thing that happened. Events are value-typed and may be
// copied freely; the bus hands the same immutable instance to every
// subscriber.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"` // empty means broadcast
	Source    string    `json:"source"`
	Payload   Payload   `json:"payload,omitempty"`
	Intensity float64   `json:"intensity"`
	Severity  Severity  `json:"severity"`
}

// New builds a canonical event with a fresh id and a UTC timestamp.
func New(t Type, userID, source string, payload Payload) *Event {
	return &Event{
		ID:        "evt-" + uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Source:    source,
		Payload:   payload,
	}
}

// WithIntensity returns a copy of the event carrying the given score and the
// derived severity.
func (e *Event) WithIntensity(score float64) *Event {
	c := *e
	c.Intensity = score
	c.Severity = SeverityFor(score)
	return &c
}
