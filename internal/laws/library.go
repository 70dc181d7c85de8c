// Package laws holds the immutable tenant-law reference library and its
// keyword index used to cross-reference documents.
package laws

import (
	"fmt"
	"os"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Reference describes one law. References are immutable after load.
type Reference struct {
	ID           string            `yaml:"id" json:"id"`
	Category     string            `yaml:"category" json:"category"`
	Jurisdiction string            `yaml:"jurisdiction" json:"jurisdiction"`
	Summary      string            `yaml:"summary" json:"summary"`
	Keywords     []string          `yaml:"keywords" json:"keywords"`
	TenantRights []string          `yaml:"tenant_rights" json:"tenant_rights"`
	TimeLimits   map[string]string `yaml:"time_limits" json:"time_limits,omitempty"`
}

// Library indexes references by id and keyword.
type Library struct {
	refs    map[string]Reference
	ordered []string            // ids in load order for deterministic output
	byWord  map[string][]string // lowercased keyword -> ids
}

// NewLibrary builds a library from references. Duplicate ids keep the first
// occurrence.
func NewLibrary(refs []Reference) *Library {
	lib := &Library{
		refs:   make(map[string]Reference),
		byWord: make(map[string][]string),
	}
	for _, ref := range refs {
		if _, exists := lib.refs[ref.ID]; exists {
			continue
		}
		lib.refs[ref.ID] = ref
		lib.ordered = append(lib.ordered, ref.ID)
		for _, kw := range ref.Keywords {
			w := strings.ToLower(strings.TrimSpace(kw))
			if w == "" {
				continue
			}
			lib.byWord[w] = append(lib.byWord[w], ref.ID)
		}
	}
	return lib
}

// Load reads a YAML corpus from disk.
func Load(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read law corpus: %w", err)
	}
	var doc struct {
		Laws []Reference `yaml:"laws"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse law corpus: %w", err)
	}
	return NewLibrary(doc.Laws), nil
}

// Get returns a reference by id.
func (l *Library) Get(id string) (Reference, bool) {
	ref, ok := l.refs[id]
	return ref, ok
}

// Len returns the number of loaded references.
func (l *Library) Len() int { return len(l.refs) }

// Match returns references whose keywords intersect the given terms or the
// document type, in load order, each at most once.
func (l *Library) Match(terms []string, docType string) []Reference {
	hit := make(map[string]bool)
	consider := func(term string) {
		for _, id := range l.byWord[strings.ToLower(strings.TrimSpace(term))] {
			hit[id] = true
		}
	}
	for _, term := range terms {
		consider(term)
	}
	if docType != "" {
		consider(docType)
		// doc types use underscores; keywords use spaces
		consider(strings.ReplaceAll(docType, "_", " "))
	}

	var out []Reference
	for _, id := range l.ordered {
		if hit[id] {
			out = append(out, l.refs[id])
		}
	}
	return out
}

// issueRights maps issue taxonomy entries to the tenant rights they put at
// risk.
var issueRights = map[string][]string{
	"eviction_threat":    {"right_to_notice", "right_to_due_process"},
	"notice_to_quit":     {"right_to_notice", "right_to_cure"},
	"eviction_notice":    {"right_to_due_process", "right_to_legal_counsel"},
	"illegal_lockout":    {"right_to_possession", "right_to_re_entry"},
	"habitability_issue": {"right_to_habitable_home", "right_to_repair"},
	"repair_ignored":     {"right_to_repair", "right_to_withhold_rent"},
	"harassment":         {"right_to_quiet_enjoyment"},
	"retaliation":        {"right_against_retaliation"},
	"deposit_dispute":    {"right_to_deposit_return"},
	"rent_dispute":       {"right_to_rent_accounting"},
	"rent_increase":      {"right_to_notice"},
	"lease_violation":    {"right_to_cure"},
}

// RightsForIssue returns the rights put at risk by an issue type, sorted for
// deterministic output.
func RightsForIssue(issueType string) []string {
	rights := issueRights[issueType]
	out := make([]string, len(rights))
	copy(out, rights)
	sort.Strings(out)
	return out
}

// DefaultCorpus is a small built-in reference set used when no corpus file is
// configured. Summaries are informational only.
func DefaultCorpus() *Library {
	return NewLibrary([]Reference{
		{
			ID:           "notice-requirements",
			Category:     "eviction",
			Jurisdiction: "default",
			Summary:      "Landlords must serve written notice before terminating a tenancy.",
			Keywords:     []string{"eviction", "notice", "notice to quit", "eviction notice", "vacate", "pay or quit"},
			TenantRights: []string{"right_to_notice", "right_to_due_process"},
			TimeLimits:   map[string]string{"notice_period": "30 days"},
		},
		{
			ID:           "habitability",
			Category:     "repairs",
			Jurisdiction: "default",
			Summary:      "Rented dwellings must be maintained in habitable condition.",
			Keywords:     []string{"repair", "habitability", "mold", "heat", "water", "repair request", "habitability issue"},
			TenantRights: []string{"right_to_habitable_home", "right_to_repair"},
			TimeLimits:   map[string]string{"repair_response": "14 days"},
		},
		{
			ID:           "deposit-return",
			Category:     "deposits",
			Jurisdiction: "default",
			Summary:      "Security deposits must be returned with an itemized statement.",
			Keywords:     []string{"deposit", "security deposit", "deposit dispute", "itemized"},
			TenantRights: []string{"right_to_deposit_return"},
			TimeLimits:   map[string]string{"return_deadline": "21 days"},
		},
		{
			ID:           "anti-retaliation",
			Category:     "retaliation",
			Jurisdiction: "default",
			Summary:      "Landlords may not retaliate against tenants who exercise legal rights.",
			Keywords:     []string{"retaliation", "complaint", "rent increase", "harassment"},
			TenantRights: []string{"right_against_retaliation", "right_to_quiet_enjoyment"},
		},
		{
			ID:           "lockout-protection",
			Category:     "possession",
			Jurisdiction: "default",
			Summary:      "Self-help evictions such as lockouts and utility shutoffs are prohibited.",
			Keywords:     []string{"lockout", "locked out", "utility shutoff", "illegal lockout"},
			TenantRights: []string{"right_to_possession", "right_to_re_entry"},
		},
		{
			ID:           "court-process",
			Category:     "eviction",
			Jurisdiction: "default",
			Summary:      "Evictions require a court order; tenants may answer and appear.",
			Keywords:     []string{"court", "summons", "hearing", "court summons", "answer", "judgment"},
			TenantRights: []string{"right_to_due_process", "right_to_legal_counsel"},
			TimeLimits:   map[string]string{"answer_deadline": "5 days"},
		},
	})
}
