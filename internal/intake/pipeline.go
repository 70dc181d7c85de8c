package intake

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/extract"
	"github.com/tenantguard/backend/internal/laws"
)

// extractionThreshold gates event extraction on classifier confidence.
const extractionThreshold = 0.5

// PipelineConfig tunes the intake pipeline.
type PipelineConfig struct {
	ClassifierTimeout time.Duration // default 30s
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ClassifierTimeout <= 0 {
		c.ClassifierTimeout = 30 * time.Second
	}
	return c
}

// Pipeline runs the intake stages register, classify, extract, law-match and
// compose. Each stage is failure-isolated: a classifier error downgrades the
// document to unknown and the pipeline continues.
type Pipeline struct {
	registry   *Registry
	classifier Classifier
	library    *laws.Library
	bus        *events.Bus
	cfg        PipelineConfig
}

func NewPipeline(registry *Registry, classifier Classifier, library *laws.Library, bus *events.Bus, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		registry:   registry,
		classifier: classifier,
		library:    library,
		bus:        bus,
		cfg:        cfg.withDefaults(),
	}
}

// Result is the composed outcome of one intake run.
type Result struct {
	Document  *RegisteredDocument
	Duplicate bool
	Analysis  Analysis
	Items     []events.DatedItem
	Laws      []laws.Reference
}

// Process takes raw bytes plus extracted text and drives them through the
// pipeline, publishing events along the way.
func (p *Pipeline) Process(ctx context.Context, userID string, data []byte, text, filename, mime, hint string) (*Result, error) {
	// Register.
	doc, duplicate := p.registry.Register(userID, data, filename, mime)
	if duplicate {
		slog.Info("duplicate upload", "doc_id", doc.DocID, "user_id", userID)
		return &Result{Document: doc, Duplicate: true}, nil
	}
	p.emit(events.EventDocumentAdded, userID, events.DocumentPayload{
		DocID:    doc.DocID,
		DocType:  doc.DocType,
		Filename: filename,
		Size:     doc.Size,
		Mime:     mime,
	})

	// Classify.
	analysis := p.classify(ctx, doc.DocID, text, filename, hint)
	ready := analysis.Confidence >= extractionThreshold
	p.emit(events.EventDocumentClassified, userID, events.DocumentPayload{
		DocID:              doc.DocID,
		DocType:            analysis.DocType,
		Filename:           filename,
		Confidence:         analysis.Confidence,
		Summary:            analysis.Summary,
		ReadyForExtraction: ready,
	})

	// Extract dated events.
	var items []events.DatedItem
	if ready {
		items = extract.Extract(text, analysis.DocType)
		p.registry.AppendCustody(doc.DocID, CustodyRecord{
			Action: CustodyExtracted, ActorID: "system",
			Details: "items=" + strconv.Itoa(len(items)),
		})
		p.emit(events.EventEventsExtracted, userID, events.ExtractedPayload{
			DocID: doc.DocID,
			Items: items,
		})
	}

	// Cross-reference laws.
	matched := p.library.Match(analysis.KeyTerms, analysis.DocType)
	lawIDs := make([]string, 0, len(matched))
	for _, ref := range matched {
		lawIDs = append(lawIDs, ref.ID)
		p.emit(events.EventLawMatched, userID, events.LawPayload{
			LawID:    ref.ID,
			Category: ref.Category,
		})
	}

	// Compose and hand off to the context loop.
	p.emit(events.EventDocumentAnalyzed, userID, events.AnalysisPayload{
		DocID:     doc.DocID,
		DocType:   analysis.DocType,
		Summary:   analysis.Summary,
		Issues:    analysisIssues(analysis),
		Deadlines: itemDeadlines(doc.DocID, items),
		LawIDs:    lawIDs,
	})

	return &Result{
		Document: p.registry.Get(doc.DocID),
		Analysis: analysis,
		Items:    items,
		Laws:     matched,
	}, nil
}

// Document returns the registered document by id, or nil.
func (p *Pipeline) Document(docID string) *RegisteredDocument {
	return p.registry.Get(docID)
}

// VerifyRead checks bytes served on a read against the registered content
// hash. A mismatch flags the document tampered and publishes an access_audit
// event; the read itself is not blocked.
func (p *Pipeline) VerifyRead(docID, actorID string, data []byte) (*RegisteredDocument, bool) {
	doc, intact := p.registry.VerifyRead(docID, actorID, data)
	if doc == nil {
		return nil, false
	}
	if !intact {
		slog.Warn("document integrity failure", "doc_id", docID, "actor_id", actorID)
		p.emit(events.EventAccessAudit, doc.UserID, events.AccessPayload{
			ActorID:       actorID,
			Action:        "read",
			ResourceID:    docID,
			ResourceClass: "document",
			Decision:      "allowed",
			Reason:        "integrity_failed",
		})
	}
	return doc, intact
}

// classify runs the classifier under its timeout. Errors and timeouts
// downgrade to unknown and are flagged in the custody log.
func (p *Pipeline) classify(ctx context.Context, docID, text, filename, hint string) Analysis {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ClassifierTimeout)
	defer cancel()

	type outcome struct {
		analysis Analysis
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		a, err := p.classifier.AnalyzeDocument(callCtx, text, filename, hint)
		ch <- outcome{a, err}
	}()

	var analysis Analysis
	var err error
	select {
	case o := <-ch:
		analysis, err = o.analysis, o.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	if err != nil {
		slog.Warn("classifier failed", "doc_id", docID, "error", err)
		p.registry.SetDocType(docID, "unknown", "classifier error: "+err.Error())
		return Analysis{DocType: "unknown", Confidence: 0}
	}
	p.registry.SetDocType(docID, analysis.DocType, "confidence="+strconv.FormatFloat(analysis.Confidence, 'f', 2, 64))
	return analysis
}

func (p *Pipeline) emit(t events.Type, userID string, payload events.Payload) {
	if p.bus != nil {
		p.bus.Emit(t, userID, "intake", payload)
	}
}

func analysisIssues(a Analysis) []events.Issue {
	out := make([]events.Issue, 0, len(a.Issues))
	now := time.Now().UTC()
	for _, issueType := range a.Issues {
		out = append(out, events.Issue{
			Type:        issueType,
			Description: "detected during document analysis",
			DetectedAt:  now,
		})
	}
	return out
}

func itemDeadlines(docID string, items []events.DatedItem) []events.Deadline {
	var out []events.Deadline
	for _, item := range items {
		if !item.IsDeadline {
			continue
		}
		out = append(out, events.Deadline{
			ID:          docID + ":" + item.Date.Format("2006-01-02") + ":" + item.EventType,
			Type:        item.EventType,
			Date:        item.Date,
			Description: item.Title,
			LinkedDocID: docID,
		})
	}
	return out
}
