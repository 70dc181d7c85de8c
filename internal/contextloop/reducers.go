package contextloop

import (
	"fmt"

	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/laws"
)

// reducer folds one event into a context. Reducers mutate the working copy
// they are given; the loop swaps it in only on success.
type reducer func(c *UserContext, evt *events.Event) error

// reducers maps event types to their fold. Types absent here do not touch
// user state and are ignored by the loop.
var reducers = map[events.Type]reducer{
	events.EventDocumentUploaded:    reduceDocument,
	events.EventDocumentAdded:       reduceDocument,
	events.EventDocumentAnalyzed:    reduceAnalyzed,
	events.EventIssueDetected:       reduceIssueDetected,
	events.EventIssueResolved:       reduceIssueResolved,
	events.EventDeadlineApproaching: reduceDeadline,
	events.EventActionTaken:         reduceActionTaken,
	events.EventLawMatched:          reduceLawMatched,
	events.EventEventsExtracted:     reduceExtracted,
	events.EventCaseInfoUpdated:     reduceCaseInfo,
}

// threatDocs are document types whose mere presence constitutes an active
// issue of the same name.
var threatDocs = map[string]bool{
	"eviction_notice": true,
	"notice_to_quit":  true,
	"court_summons":   true,
	"pay_or_quit":     true,
	"eviction_threat": true,
}

func reduceDocument(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.DocumentPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	desc := DocumentDescriptor{
		DocID:      p.DocID,
		DocType:    p.DocType,
		Filename:   p.Filename,
		Size:       p.Size,
		UploadedAt: evt.Timestamp,
	}
	// The vault announces a raw write before the registry assigns a doc id;
	// the registered event upgrades that placeholder instead of appending.
	replaced := false
	for i, d := range c.Documents {
		if d.Filename == p.Filename && (d.DocID == p.DocID || d.DocID == "") {
			desc.UploadedAt = d.UploadedAt
			c.Documents[i] = desc
			replaced = true
			break
		}
	}
	if !replaced {
		c.Documents = append(c.Documents, desc)
	}
	if p.DocType != "" {
		c.DocumentTypes[p.DocType] = true
		if threatDocs[p.DocType] {
			addIssue(c, events.Issue{
				Type:        p.DocType,
				Description: "derived from uploaded " + p.DocType,
				DetectedAt:  evt.Timestamp,
			})
		}
	}
	return nil
}

func reduceAnalyzed(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.AnalysisPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	if p.DocType != "" {
		c.DocumentTypes[p.DocType] = true
	}
	for _, issue := range p.Issues {
		addIssue(c, issue)
	}
	for _, d := range p.Deadlines {
		c.addDeadline(d)
	}
	for _, id := range p.LawIDs {
		c.addLaw(id)
	}
	return nil
}

func addIssue(c *UserContext, issue events.Issue) {
	if c.hasIssue(issue.Type) {
		return
	}
	c.ActiveIssues = append(c.ActiveIssues, issue)
	for _, right := range laws.RightsForIssue(issue.Type) {
		c.RightsAtRisk[right] = true
	}
}

func reduceIssueDetected(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.IssuePayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	addIssue(c, p.Issue)
	return nil
}

func reduceIssueResolved(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.IssuePayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	kept := c.ActiveIssues[:0]
	for _, issue := range c.ActiveIssues {
		if issue.Type != p.Issue.Type {
			kept = append(kept, issue)
		}
	}
	c.ActiveIssues = kept

	// Rights at risk are a function of the remaining issues.
	c.RightsAtRisk = make(map[string]bool)
	for _, issue := range c.ActiveIssues {
		for _, right := range laws.RightsForIssue(issue.Type) {
			c.RightsAtRisk[right] = true
		}
	}
	return nil
}

func reduceDeadline(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.DeadlinePayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	c.addDeadline(p.Deadline)
	return nil
}

func reduceActionTaken(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.ActionPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	c.ActionsTaken = append(c.ActionsTaken, p.Action)
	return nil
}

func reduceLawMatched(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.LawPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	c.addLaw(p.LawID)
	return nil
}

func reduceExtracted(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.ExtractedPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	for _, item := range p.Items {
		if !item.IsDeadline {
			continue
		}
		c.addDeadline(events.Deadline{
			ID:          p.DocID + ":" + item.Date.Format("2006-01-02") + ":" + item.EventType,
			Type:        item.EventType,
			Date:        item.Date,
			Description: item.Title,
			LinkedDocID: p.DocID,
		})
	}
	return nil
}

func reduceCaseInfo(c *UserContext, evt *events.Event) error {
	p, ok := evt.Payload.(events.CaseInfoPayload)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", evt.Type, evt.Payload)
	}
	if !p.HearingDate.IsZero() {
		c.addDeadline(events.Deadline{
			ID:          "case:hearing:" + p.HearingDate.Format("2006-01-02"),
			Type:        "court_summons",
			Date:        p.HearingDate,
			Description: "Court hearing",
		})
	}
	if !p.AnswerDeadline.IsZero() {
		c.addDeadline(events.Deadline{
			ID:          "case:answer:" + p.AnswerDeadline.Format("2006-01-02"),
			Type:        "court_summons",
			Date:        p.AnswerDeadline,
			Description: "Answer due",
		})
	}
	return nil
}
