package intake

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/laws"
)

var docIDRe = regexp.MustCompile(`^TG-\d{4}-\d{6}-[A-Z2-7]{4}$`)

func TestRegistryDocIDFormat(t *testing.T) {
	r := NewRegistry("")
	doc, dup := r.Register("u1", []byte("bytes"), "lease.txt", "text/plain")
	require.False(t, dup)
	assert.Regexp(t, docIDRe, doc.DocID)
	assert.Equal(t, StatusActive, doc.Status)
	assert.Equal(t, IntegrityVerified, doc.Integrity)
	assert.Equal(t, 1, doc.CurrentVersion)
	require.Len(t, doc.Versions, 1)
	assert.Equal(t, doc.ContentHash, doc.Versions[0].ContentHash)
	require.Len(t, doc.CustodyLog, 1)
	assert.Equal(t, CustodyRegistered, doc.CustodyLog[0].Action)
}

func TestRegistrySequenceMonotonic(t *testing.T) {
	r := NewRegistry("ORG")
	a, _ := r.Register("u1", []byte("a"), "a.txt", "text/plain")
	b, _ := r.Register("u1", []byte("b"), "b.txt", "text/plain")
	// ORG-YYYY-NNNNNN-XXXX; the sequence segment increments.
	assert.Equal(t, "000001", a.DocID[9:15])
	assert.Equal(t, "000002", b.DocID[9:15])
}

func TestDuplicateUpload(t *testing.T) {
	r := NewRegistry("TG")
	first, dup := r.Register("u1", []byte("same bytes"), "a.txt", "text/plain")
	require.False(t, dup)

	second, dup := r.Register("u1", []byte("same bytes"), "b.txt", "text/plain")
	require.True(t, dup)
	assert.Equal(t, first.DocID, second.DocID)

	last := second.CustodyLog[len(second.CustodyLog)-1]
	assert.Equal(t, CustodyDuplicateUpload, last.Action)

	// A different user registering the same bytes gets a fresh document.
	other, dup := r.Register("u2", []byte("same bytes"), "a.txt", "text/plain")
	require.False(t, dup)
	assert.NotEqual(t, first.DocID, other.DocID)
}

func TestTamperDetection(t *testing.T) {
	r := NewRegistry("TG")
	doc, _ := r.Register("u1", []byte("original"), "a.txt", "text/plain")

	same, intact := r.VerifyRead(doc.DocID, "u1", []byte("original"))
	require.True(t, intact)
	assert.Equal(t, IntegrityVerified, same.Integrity)

	flagged, intact := r.VerifyRead(doc.DocID, "u1", []byte("modified"))
	require.False(t, intact)
	assert.Equal(t, IntegrityTampered, flagged.Integrity)
	last := flagged.CustodyLog[len(flagged.CustodyLog)-1]
	assert.Equal(t, CustodyIntegrityFailed, last.Action)
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := NewRegistry("TG")
	doc, _ := r.Register("u1", []byte("x"), "a.txt", "text/plain")
	doc.CustodyLog[0].Action = "mutated"
	doc.Status = "mutated"

	fresh := r.Get(doc.DocID)
	assert.Equal(t, CustodyRegistered, fresh.CustodyLog[0].Action)
	assert.Equal(t, StatusActive, fresh.Status)
}

func TestReferenceClassifier(t *testing.T) {
	c := ReferenceClassifier{}
	ctx := context.Background()

	a, err := c.AnalyzeDocument(ctx, "NOTICE TO QUIT: you must vacate the premises due to unlawful detainer.", "notice.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "eviction_notice", a.DocType)
	assert.GreaterOrEqual(t, a.Confidence, 0.5)

	a, err = c.AnalyzeDocument(ctx, "", "empty.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", a.DocType)
	assert.Zero(t, a.Confidence)

	// No keyword hits but a hint: low-confidence fallback.
	a, err = c.AnalyzeDocument(ctx, "nothing relevant here", "x.txt", "lease")
	require.NoError(t, err)
	assert.Equal(t, "lease", a.DocType)
	assert.InDelta(t, 0.3, a.Confidence, 1e-9)
}

func TestClassifierRaisesKnownIssueTypes(t *testing.T) {
	c := ReferenceClassifier{}
	ctx := context.Background()

	a, err := c.AnalyzeDocument(ctx, "NOTICE TO QUIT: eviction for unpaid rent.", "notice.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "eviction_notice", a.DocType)
	assert.Equal(t, []string{"eviction_threat"}, a.Issues)

	a, err = c.AnalyzeDocument(ctx, "Maintenance request: mold and habitability concerns in the unit.", "repair.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "repair_request", a.DocType)
	assert.Equal(t, []string{"habitability_issue"}, a.Issues)
}

// failingClassifier always errors.
type failingClassifier struct{}

func (failingClassifier) AnalyzeDocument(ctx context.Context, text, filename, hint string) (Analysis, error) {
	return Analysis{}, errors.New("model offline")
}

// slowClassifier never returns before the context expires.
type slowClassifier struct{}

func (slowClassifier) AnalyzeDocument(ctx context.Context, text, filename, hint string) (Analysis, error) {
	<-ctx.Done()
	return Analysis{}, ctx.Err()
}

func newPipeline(t *testing.T, c Classifier) (*Pipeline, *Registry, *events.Bus) {
	t.Helper()
	bus := events.NewBus(events.BusConfig{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	reg := NewRegistry("TG")
	p := NewPipeline(reg, c, laws.DefaultCorpus(), bus, PipelineConfig{ClassifierTimeout: 200 * time.Millisecond})
	return p, reg, bus
}

func TestPipelineFullRun(t *testing.T) {
	p, _, bus := newPipeline(t, ReferenceClassifier{})
	ctx := context.Background()

	text := "NOTICE TO QUIT. You must vacate the premises by 03/15/2024 due to unlawful detainer proceedings."
	res, err := p.Process(ctx, "u1", []byte(text), text, "notice.txt", "text/plain", "")
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	assert.Equal(t, "eviction_notice", res.Analysis.DocType)
	assert.Equal(t, "eviction_notice", res.Document.DocType)
	require.NotEmpty(t, res.Items)
	assert.True(t, res.Items[0].IsDeadline)

	// Events landed in bus history: added, classified, extracted, analyzed.
	time.Sleep(50 * time.Millisecond)
	for _, want := range []events.Type{
		events.EventDocumentAdded,
		events.EventDocumentClassified,
		events.EventEventsExtracted,
		events.EventDocumentAnalyzed,
	} {
		assert.NotEmptyf(t, bus.History(want, "u1", 10), "missing %s", want)
	}
}

func TestPipelineDuplicateEmitsNoEvents(t *testing.T) {
	p, _, bus := newPipeline(t, ReferenceClassifier{})
	ctx := context.Background()

	text := "lease agreement between landlord and tenant"
	first, err := p.Process(ctx, "u1", []byte(text), text, "lease.txt", "text/plain", "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	added := len(bus.History(events.EventDocumentAdded, "u1", 0))

	second, err := p.Process(ctx, "u1", []byte(text), text, "lease-copy.txt", "text/plain", "")
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	assert.Equal(t, first.Document.DocID, second.Document.DocID)

	last := second.Document.CustodyLog[len(second.Document.CustodyLog)-1]
	assert.Equal(t, CustodyDuplicateUpload, last.Action)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, added, len(bus.History(events.EventDocumentAdded, "u1", 0)))
}

func TestPipelineVerifyReadEmitsAuditOnTamper(t *testing.T) {
	p, _, bus := newPipeline(t, ReferenceClassifier{})
	ctx := context.Background()

	res, err := p.Process(ctx, "u1", []byte("original"), "original", "a.txt", "text/plain", "")
	require.NoError(t, err)
	docID := res.Document.DocID

	doc, intact := p.VerifyRead(docID, "u1", []byte("original"))
	require.True(t, intact)
	assert.Equal(t, IntegrityVerified, doc.Integrity)
	assert.Empty(t, bus.History(events.EventAccessAudit, "u1", 10))

	doc, intact = p.VerifyRead(docID, "u1", []byte("modified"))
	require.False(t, intact)
	assert.Equal(t, IntegrityTampered, doc.Integrity)

	history := bus.History(events.EventAccessAudit, "u1", 10)
	require.Len(t, history, 1)
	payload, ok := history[0].Payload.(events.AccessPayload)
	require.True(t, ok)
	assert.Equal(t, docID, payload.ResourceID)
	assert.Equal(t, "read", payload.Action)
	assert.Equal(t, "integrity_failed", payload.Reason)
}

func TestPipelineClassifierFailureIsolated(t *testing.T) {
	p, reg, _ := newPipeline(t, failingClassifier{})
	ctx := context.Background()

	res, err := p.Process(ctx, "u1", []byte("text"), "text", "a.txt", "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Analysis.DocType)
	assert.Empty(t, res.Items)

	doc := reg.Get(res.Document.DocID)
	var flagged bool
	for _, rec := range doc.CustodyLog {
		if rec.Action == CustodyClassified && rec.Details != "" {
			flagged = true
		}
	}
	assert.True(t, flagged)
}

func TestPipelineClassifierTimeout(t *testing.T) {
	p, _, _ := newPipeline(t, slowClassifier{})
	ctx := context.Background()

	start := time.Now()
	res, err := p.Process(ctx, "u1", []byte("text"), "text", "a.txt", "text/plain", "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Analysis.DocType)
	assert.Less(t, time.Since(start), 2*time.Second)
}
