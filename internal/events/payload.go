package events

import "time"

// Payload is the tagged union of per-type event payloads. Each variant is a
// distinct struct; publishers hand the variant to the bus directly instead of
// an untyped map.
type Payload interface {
	isPayload()
}

// Issue is one active problem in a tenancy. A given IssueType appears at most
// once in a user's active set.
type Issue struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
	Evidence    []string  `json:"evidence_refs,omitempty"`
}

// Deadline is a dated obligation. Deadlines inside a UserContext stay sorted
// ascending by date.
type Deadline struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	LinkedDocID string    `json:"linked_document_id,omitempty"`
}

// DatedItem is one extracted dated event from document text.
type DatedItem struct {
	Title      string    `json:"title"`
	Date       time.Time `json:"date"`
	EventType  string    `json:"event_type"`
	Confidence float64   `json:"confidence"`
	IsDeadline bool      `json:"is_deadline"`
	Context    string    `json:"context,omitempty"`
}

// DocumentPayload accompanies document_added, document_uploaded,
// document_processed and document_classified events.
type DocumentPayload struct {
	DocID      string  `json:"doc_id,omitempty"`
	DocType    string  `json:"doc_type"`
	Filename   string  `json:"filename,omitempty"`
	Size       int64   `json:"size,omitempty"`
	Mime       string  `json:"mime,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	// ReadyForExtraction is set on document_classified when confidence
	// clears the extraction threshold.
	ReadyForExtraction bool `json:"ready_for_extraction,omitempty"`
}

// AnalysisPayload accompanies document_analyzed: the composed result of
// classification, extraction and law matching for a single document.
type AnalysisPayload struct {
	DocID     string     `json:"doc_id"`
	DocType   string     `json:"doc_type"`
	Summary   string     `json:"summary,omitempty"`
	Issues    []Issue    `json:"issues,omitempty"`
	Deadlines []Deadline `json:"deadlines,omitempty"`
	LawIDs    []string   `json:"law_ids,omitempty"`
}

// IssuePayload accompanies issue_detected and issue_resolved.
type IssuePayload struct {
	Issue Issue `json:"issue"`
}

// DeadlinePayload accompanies deadline_approaching and deadline_passed.
type DeadlinePayload struct {
	Deadline      Deadline `json:"deadline"`
	DaysRemaining int      `json:"days_remaining"`
}

// ActionPayload accompanies action_taken.
type ActionPayload struct {
	Action  string `json:"action"`
	Details string `json:"details,omitempty"`
}

// LawPayload accompanies law_matched.
type LawPayload struct {
	LawID    string `json:"law_id"`
	Category string `json:"category,omitempty"`
}

// PhasePayload accompanies phase_changed.
type PhasePayload struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

// ExtractedPayload accompanies events_extracted.
type ExtractedPayload struct {
	DocID string      `json:"doc_id,omitempty"`
	Items []DatedItem `json:"items"`
}

// CaseInfoPayload accompanies case_info_updated. Zero-valued times mean the
// field was not part of the update.
type CaseInfoPayload struct {
	HearingDate    time.Time         `json:"hearing_date,omitempty"`
	AnswerDeadline time.Time         `json:"answer_deadline,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// PredictionPayload accompanies prediction_made.
type PredictionPayload struct {
	Needs []string `json:"needs"`
}

// SpikePayload accompanies intensity_spike.
type SpikePayload struct {
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
}

// AccessPayload accompanies access_audit events emitted by the vault. It
// deliberately carries no document content.
type AccessPayload struct {
	ActorID       string `json:"actor_id"`
	Action        string `json:"action"`
	ResourceID    string `json:"resource_id"`
	ResourceClass string `json:"resource_class"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason,omitempty"`
}

// GenericPayload covers free-form notification events such as
// ui_refresh_needed, timeline_updated and user_dismissed.
type GenericPayload map[string]interface{}

func (DocumentPayload) isPayload()   {}
func (AnalysisPayload) isPayload()   {}
func (IssuePayload) isPayload()      {}
func (DeadlinePayload) isPayload()   {}
func (ActionPayload) isPayload()     {}
func (LawPayload) isPayload()        {}
func (PhasePayload) isPayload()      {}
func (ExtractedPayload) isPayload()  {}
func (CaseInfoPayload) isPayload()   {}
func (PredictionPayload) isPayload() {}
func (SpikePayload) isPayload()      {}
func (AccessPayload) isPayload()     {}
func (GenericPayload) isPayload()    {}
