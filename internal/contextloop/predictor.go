package contextloop

import (
	"time"

	"github.com/tenantguard/backend/internal/events"
)

// essentialDocs are the document types every tenancy case should hold, in
// suggestion order.
var essentialDocs = []string{"lease", "rent_receipt", "photo_evidence"}

// predictNeeds is a pure function of document types, phase and deadlines.
// Same context, same needs, same order.
func predictNeeds(c *UserContext, now time.Time) []string {
	var needs []string
	add := func(need string) {
		for _, n := range needs {
			if n == need {
				return
			}
		}
		needs = append(needs, need)
	}

	switch c.Phase {
	case events.PhaseEviction:
		add("legal_aid_contact")
		add("court_response_guide")
		add("rent_payment_proof")
	case events.PhaseDispute:
		add("demand_letter_template")
		add("evidence_checklist")
	case events.PhaseIssueEmerging:
		add("complaint_letter_template")
	case events.PhasePostTenancy:
		add("deposit_recovery_guide")
	}

	if c.DocumentTypes["eviction_notice"] || c.DocumentTypes["court_summons"] {
		add("answer_deadline_tracking")
	}
	if c.DocumentTypes["repair_request"] {
		add("habitability_evidence_guide")
	}

	for _, d := range c.Deadlines {
		if !d.Date.Before(now) && d.Date.Sub(now) <= 7*24*time.Hour {
			add("deadline_preparation")
			break
		}
	}

	for _, doc := range essentialDocs {
		if !c.DocumentTypes[doc] {
			add("upload_" + doc)
		}
	}

	if len(needs) > 5 {
		needs = needs[:5]
	}
	return needs
}
