package contextloop

// Action is one recommended next step surfaced to the user.
type Action struct {
	Key         string `json:"key"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// recommendActions builds at most five actions, in fixed precedence order,
// de-duplicated by key.
func recommendActions(c *UserContext) []Action {
	var out []Action
	seen := make(map[string]bool)
	add := func(a Action) {
		if len(out) >= 5 || seen[a.Key] {
			return
		}
		seen[a.Key] = true
		out = append(out, a)
	}

	if c.IntensityScore >= 80 {
		add(Action{
			Key:         "seek_legal_help",
			Priority:    "critical",
			Description: "Contact a tenant rights attorney or legal aid organization now.",
		})
	}

	for _, doc := range essentialDocs {
		if !c.DocumentTypes[doc] {
			add(Action{
				Key:         "upload_" + doc,
				Priority:    "medium",
				Description: "Upload your " + docLabel(doc) + " to strengthen your case.",
			})
		}
	}

	if len(c.ActiveIssues) > 0 && !c.DocumentTypes["photo_evidence"] {
		add(Action{
			Key:         "document_issue",
			Priority:    "high",
			Description: "Photograph and document the current issue.",
		})
	}

	for i, need := range c.PredictedNeeds {
		if i >= 3 {
			break
		}
		add(Action{
			Key:         need,
			Priority:    "medium",
			Description: needDescription(need),
		})
	}
	return out
}

func docLabel(docType string) string {
	switch docType {
	case "lease":
		return "lease agreement"
	case "rent_receipt":
		return "rent receipts"
	case "photo_evidence":
		return "photo evidence"
	default:
		return docType
	}
}

func needDescription(need string) string {
	switch need {
	case "legal_aid_contact":
		return "Reach out to a local legal aid office."
	case "court_response_guide":
		return "Review how to respond to a court filing."
	case "rent_payment_proof":
		return "Gather proof of rent payments."
	case "demand_letter_template":
		return "Prepare a written demand to your landlord."
	case "evidence_checklist":
		return "Work through the evidence checklist."
	case "complaint_letter_template":
		return "Put your complaint to the landlord in writing."
	case "deposit_recovery_guide":
		return "Review the steps to recover your deposit."
	case "answer_deadline_tracking":
		return "Track your response deadline closely."
	case "habitability_evidence_guide":
		return "Document habitability problems thoroughly."
	case "deadline_preparation":
		return "Prepare for your upcoming deadline."
	default:
		return "Review the suggested next step."
	}
}
