// Package intake turns uploaded bytes into registered, classified and
// extracted documents, publishing events at each stage.
package intake

import (
	"context"
	"sort"
	"strings"
)

// Analysis is the classifier verdict for one document.
type Analysis struct {
	DocType    string   `json:"doc_type"`
	Confidence float64  `json:"confidence"`
	Title      string   `json:"title,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	KeyDates   []string `json:"key_dates,omitempty"`
	KeyParties []string `json:"key_parties,omitempty"`
	KeyAmounts []string `json:"key_amounts,omitempty"`
	KeyTerms   []string `json:"key_terms,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// Classifier decides what kind of document a text is. Implementations must be
// side-effect free and return doc_type "unknown" with confidence 0 for empty
// text.
type Classifier interface {
	AnalyzeDocument(ctx context.Context, text, filename, hint string) (Analysis, error)
}

// docSignature scores one document type by keyword hits.
type docSignature struct {
	docType  string
	keywords []string
	issues   map[string]string // keyword -> issue type raised when present
}

var signatures = []docSignature{
	{
		docType:  "eviction_notice",
		keywords: []string{"eviction", "notice to quit", "notice to vacate", "unlawful detainer", "vacate the premises", "terminate your tenancy"},
		issues:   map[string]string{"eviction": "eviction_threat"},
	},
	{
		docType:  "court_summons",
		keywords: []string{"summons", "superior court", "you are being sued", "complaint for", "appear before", "civil action"},
		issues:   map[string]string{"summons": "eviction_threat"},
	},
	{
		docType:  "lease",
		keywords: []string{"lease agreement", "rental agreement", "landlord", "tenant agrees", "security deposit", "term of tenancy"},
	},
	{
		docType:  "rent_increase",
		keywords: []string{"rent increase", "increase in rent", "new monthly rent", "adjusted rent"},
		issues:   map[string]string{"rent increase": "rent_increase"},
	},
	{
		docType:  "repair_request",
		keywords: []string{"repair", "maintenance request", "habitability", "mold", "leak", "no heat", "infestation"},
		issues:   map[string]string{"habitability": "habitability_issue", "mold": "habitability_issue", "no heat": "habitability_issue"},
	},
	{
		docType:  "rent_receipt",
		keywords: []string{"rent receipt", "payment received", "received from tenant", "amount paid"},
	},
	{
		docType:  "inspection_report",
		keywords: []string{"inspection report", "move-in inspection", "move-out inspection", "condition of premises"},
	},
}

// ReferenceClassifier is the deterministic keyword classifier used when no
// external model is wired in. Confidence grows with distinct keyword hits and
// caps at 0.95.
type ReferenceClassifier struct{}

func (ReferenceClassifier) AnalyzeDocument(ctx context.Context, text, filename, hint string) (Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return Analysis{DocType: "unknown", Confidence: 0}, nil
	}
	lower := strings.ToLower(text)

	best := Analysis{DocType: "unknown", Confidence: 0}
	bestHits := 0
	for _, sig := range signatures {
		hits := 0
		issueSet := map[string]bool{}
		for _, kw := range sig.keywords {
			if strings.Contains(lower, kw) {
				hits++
				if issue, ok := sig.issues[kw]; ok {
					issueSet[issue] = true
				}
			}
		}
		if hits == 0 {
			continue
		}
		conf := 0.5 + 0.15*float64(hits-1)
		if conf > 0.95 {
			conf = 0.95
		}
		if hits > bestHits || (hits == bestHits && sig.docType == hint) {
			issues := make([]string, 0, len(issueSet))
			for issue := range issueSet {
				issues = append(issues, issue)
			}
			sort.Strings(issues)
			best = Analysis{
				DocType:    sig.docType,
				Confidence: conf,
				Summary:    summaryFor(sig.docType),
				KeyTerms:   hitTerms(lower, sig.keywords),
				Issues:     issues,
			}
			bestHits = hits
		}
	}

	// A hint breaks a total miss, at low confidence.
	if best.DocType == "unknown" && hint != "" {
		best = Analysis{DocType: hint, Confidence: 0.3}
	}
	return best, nil
}

func hitTerms(lower string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func summaryFor(docType string) string {
	switch docType {
	case "eviction_notice":
		return "Notice instructing the tenant to vacate the premises."
	case "court_summons":
		return "Court summons naming the tenant in a civil action."
	case "lease":
		return "Residential lease agreement."
	case "rent_increase":
		return "Notice of a change to the monthly rent."
	case "repair_request":
		return "Record of a repair or habitability complaint."
	case "rent_receipt":
		return "Receipt for a rent payment."
	case "inspection_report":
		return "Inspection report on the condition of the premises."
	default:
		return ""
	}
}

var _ Classifier = ReferenceClassifier{}
