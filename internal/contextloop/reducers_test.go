package contextloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantguard/backend/internal/events"
)

func docEvent(docID, docType, filename string) *events.Event {
	return &events.Event{
		Type:      events.EventDocumentAdded,
		UserID:    "u1",
		Timestamp: time.Now().UTC(),
		Payload: events.DocumentPayload{
			DocID:    docID,
			DocType:  docType,
			Filename: filename,
			Size:     10,
		},
	}
}

func TestReduceDocumentUpgradesVaultPlaceholder(t *testing.T) {
	c := newUserContext("u1")

	// Raw vault write lands first, before the registry assigned an id.
	require.NoError(t, reduceDocument(c, docEvent("", "", "notice.txt")))
	require.Len(t, c.Documents, 1)
	assert.Empty(t, c.Documents[0].DocID)

	// The registered event for the same file replaces the placeholder.
	require.NoError(t, reduceDocument(c, docEvent("TG-2026-000001-ABCD", "eviction_notice", "notice.txt")))
	require.Len(t, c.Documents, 1)
	assert.Equal(t, "TG-2026-000001-ABCD", c.Documents[0].DocID)
	assert.Equal(t, "eviction_notice", c.Documents[0].DocType)

	// A different file still appends.
	require.NoError(t, reduceDocument(c, docEvent("TG-2026-000002-ABCD", "lease", "lease.pdf")))
	assert.Len(t, c.Documents, 2)
}

func TestReduceDocumentDerivesThreatIssue(t *testing.T) {
	c := newUserContext("u1")

	require.NoError(t, reduceDocument(c, docEvent("d1", "eviction_notice", "notice.txt")))
	require.Len(t, c.ActiveIssues, 1)
	assert.Equal(t, "eviction_notice", c.ActiveIssues[0].Type)
	assert.NotEmpty(t, c.RightsAtRisk)

	// Re-applying the same event does not double the issue.
	require.NoError(t, reduceDocument(c, docEvent("d1", "eviction_notice", "notice.txt")))
	assert.Len(t, c.ActiveIssues, 1)
}

func TestReduceDocumentRejectsWrongPayload(t *testing.T) {
	c := newUserContext("u1")
	evt := &events.Event{
		Type:    events.EventDocumentAdded,
		UserID:  "u1",
		Payload: events.GenericPayload{},
	}
	assert.Error(t, reduceDocument(c, evt))
}
