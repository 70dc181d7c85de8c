// Package contextloop serializes every event that affects a user and derives
// their current situation: phase, intensity, deadlines, applicable laws,
// predicted needs and recommended actions. One logical writer per user.
package contextloop

import (
	"sort"
	"time"

	"github.com/tenantguard/backend/internal/events"
)

// DocumentDescriptor is the loop's lightweight handle on an uploaded
// document.
type DocumentDescriptor struct {
	DocID      string    `json:"doc_id,omitempty"`
	DocType    string    `json:"doc_type"`
	Filename   string    `json:"filename,omitempty"`
	Size       int64     `json:"size,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UserContext is the per-user derived state. It is mutated only by the
// owning worker; everyone else gets deep copies.
type UserContext struct {
	UserID         string               `json:"user_id"`
	Phase          events.Phase         `json:"phase"`
	IntensityScore float64              `json:"intensity_score"`
	Documents      []DocumentDescriptor `json:"documents"`
	DocumentTypes  map[string]bool      `json:"document_types"`
	ActiveIssues   []events.Issue       `json:"active_issues"`
	Deadlines      []events.Deadline    `json:"deadlines"`
	ApplicableLaws []string             `json:"applicable_laws"`
	RightsAtRisk   map[string]bool      `json:"rights_at_risk"`
	ActionsTaken   []string             `json:"actions_taken"`
	PredictedNeeds []string             `json:"predicted_needs"`
	LastActivity   time.Time            `json:"last_activity"`
}

func newUserContext(userID string) *UserContext {
	return &UserContext{
		UserID:        userID,
		Phase:         events.PhaseActive,
		DocumentTypes: make(map[string]bool),
		RightsAtRisk:  make(map[string]bool),
	}
}

func (c *UserContext) clone() *UserContext {
	out := *c
	out.Documents = append([]DocumentDescriptor(nil), c.Documents...)
	out.DocumentTypes = make(map[string]bool, len(c.DocumentTypes))
	for k, v := range c.DocumentTypes {
		out.DocumentTypes[k] = v
	}
	out.ActiveIssues = append([]events.Issue(nil), c.ActiveIssues...)
	out.Deadlines = append([]events.Deadline(nil), c.Deadlines...)
	out.ApplicableLaws = append([]string(nil), c.ApplicableLaws...)
	out.RightsAtRisk = make(map[string]bool, len(c.RightsAtRisk))
	for k, v := range c.RightsAtRisk {
		out.RightsAtRisk[k] = v
	}
	out.ActionsTaken = append([]string(nil), c.ActionsTaken...)
	out.PredictedNeeds = append([]string(nil), c.PredictedNeeds...)
	return &out
}

func (c *UserContext) hasIssue(issueType string) bool {
	for _, issue := range c.ActiveIssues {
		if issue.Type == issueType {
			return true
		}
	}
	return false
}

func (c *UserContext) hasDeadline(id string) bool {
	for _, d := range c.Deadlines {
		if d.ID == id {
			return true
		}
	}
	return false
}

// addDeadline inserts unless already present and keeps the ascending order
// invariant.
func (c *UserContext) addDeadline(d events.Deadline) {
	if d.ID != "" && c.hasDeadline(d.ID) {
		return
	}
	c.Deadlines = append(c.Deadlines, d)
	sort.SliceStable(c.Deadlines, func(i, j int) bool {
		return c.Deadlines[i].Date.Before(c.Deadlines[j].Date)
	})
}

func (c *UserContext) addLaw(id string) {
	for _, existing := range c.ApplicableLaws {
		if existing == id {
			return
		}
	}
	c.ApplicableLaws = append(c.ApplicableLaws, id)
}

// sortedDocumentTypes is the deterministic view used by the predictor.
func (c *UserContext) sortedDocumentTypes() []string {
	out := make([]string, 0, len(c.DocumentTypes))
	for t := range c.DocumentTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
