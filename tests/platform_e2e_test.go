// Package tests exercises the full pipeline end to end: vault-gated storage,
// document intake, event bus fan-out, context loop derivation and the
// websocket stream.
package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantguard/backend/internal/contextloop"
	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/httpapi"
	"github.com/tenantguard/backend/internal/intake"
	"github.com/tenantguard/backend/internal/intensity"
	"github.com/tenantguard/backend/internal/laws"
	"github.com/tenantguard/backend/internal/storage"
	"github.com/tenantguard/backend/internal/stream"
	"github.com/tenantguard/backend/internal/vault"
)

type testPlatform struct {
	bus      *events.Bus
	loop     *contextloop.Loop
	vault    *vault.Engine
	audit    *vault.AuditLog
	registry *intake.Registry
	srv      *httptest.Server
}

func newPlatform(t *testing.T) *testPlatform {
	t.Helper()

	bus := events.NewBus(events.BusConfig{})
	loop := contextloop.NewLoop(bus, contextloop.Config{})
	loop.Start()

	hub := stream.NewHub(bus)
	bus.RegisterSink(hub)

	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	audit, err := vault.NewAuditLog(t.TempDir())
	require.NoError(t, err)
	eng := vault.NewEngine(storage.NewResilientProvider(provider, storage.RetryConfig{}), vault.NewDirectory(), audit, bus)

	registry := intake.NewRegistry("TG")
	pipeline := intake.NewPipeline(registry, intake.ReferenceClassifier{}, laws.DefaultCorpus(), bus, intake.PipelineConfig{})

	api := &httpapi.Server{
		Bus:      bus,
		Loop:     loop,
		Hub:      hub,
		Pipeline: pipeline,
		Vault:    eng,
	}
	srv := httptest.NewServer(api.Router())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = loop.Shutdown(ctx)
		_ = bus.Shutdown(ctx)
		audit.Close()
	})

	return &testPlatform{bus: bus, loop: loop, vault: eng, audit: audit, registry: registry, srv: srv}
}

func (p *testPlatform) upload(t *testing.T, userID, filename, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(
		p.srv.URL+"/api/v1/users/"+userID+"/documents?filename="+filename,
		"text/plain",
		strings.NewReader(body),
	)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEvictionNoticeEndToEnd(t *testing.T) {
	p := newPlatform(t)

	// A broadcast websocket watcher sees the pipeline events.
	wsURL := "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/events?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage() // connected frame
	require.NoError(t, err)

	body := "NOTICE TO QUIT. You must vacate the premises by 03/15/2030 due to unlawful detainer proceedings."
	resp := p.upload(t, "u1", "notice.txt", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc intake.RegisteredDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "eviction_notice", doc.DocType)
	assert.Regexp(t, `^TG-\d{4}-\d{6}-[A-Z2-7]{4}$`, doc.DocID)

	// The context loop derives eviction state.
	require.Eventually(t, func() bool {
		return p.loop.GetContext("u1").Phase == events.PhaseEviction
	}, 2*time.Second, 20*time.Millisecond)

	// The distant vacate date scores low under the deadline multiplier, so
	// the aggregate sits below critical but well above a quiet tenancy.
	state := p.loop.GetState("u1")
	assert.Greater(t, state.Context.IntensityScore, 50.0)
	assert.True(t, state.Context.DocumentTypes["eviction_notice"])
	assert.NotEmpty(t, state.Context.ActiveIssues)
	assert.NotEmpty(t, state.Context.Deadlines)
	assert.NotEmpty(t, state.Context.ApplicableLaws)

	var keys []string
	for _, a := range state.RecommendedActions {
		keys = append(keys, a.Key)
	}
	assert.Contains(t, keys, "document_issue")

	// The owner's socket received at least one pipeline event.
	var sawEvent bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !sawEvent {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frame, &msg) == nil && msg.Type == "event" {
			sawEvent = true
		}
	}
	assert.True(t, sawEvent)

	// Every upload crossed the vault, so the audit trail has allowed writes.
	p.audit.Flush()
	entries, err := p.audit.ReadDay(time.Now().UTC())
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, vault.DecisionAllowed, entries[0].Decision)
}

func TestDuplicateUploadEndToEnd(t *testing.T) {
	p := newPlatform(t)
	body := "lease agreement between landlord and tenant"

	resp := p.upload(t, "u1", "lease.txt", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first intake.RegisteredDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))

	resp = p.upload(t, "u1", "lease-again.txt", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second intake.RegisteredDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))

	assert.Equal(t, first.DocID, second.DocID)
	last := second.CustodyLog[len(second.CustodyLog)-1]
	assert.Equal(t, intake.CustodyDuplicateUpload, last.Action)
}

func TestCrossUserAccessDeniedEndToEnd(t *testing.T) {
	p := newPlatform(t)

	resp := p.upload(t, "u1", "private.txt", "lease agreement between landlord and tenant")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Another user cannot read it through the vault.
	intruder := vault.Actor{ID: "u2", Role: vault.RoleUser}
	_, err := p.vault.Read(context.Background(), intruder, "/users/u1/docs/private.txt")
	assert.ErrorIs(t, err, vault.ErrDenied)

	p.audit.Flush()
	entries, err := p.audit.ReadDay(time.Now().UTC())
	require.NoError(t, err)
	denied := entries[len(entries)-1]
	assert.Equal(t, vault.DecisionDenied, denied.Decision)
	assert.Equal(t, vault.ReasonMatrix, denied.Reason)
}

func TestTrendEscalatesAcrossEvents(t *testing.T) {
	tracker := intensity.NewTracker(100)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		tracker.Record("u1", 40, now.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 5; i++ {
		tracker.Record("u1", 75, now.Add(time.Duration(10+i)*time.Minute))
	}

	report := tracker.Report("u1")
	assert.Equal(t, intensity.TrendEscalating, report.Trend)
	assert.InDelta(t, 35, report.Delta, 0.01)
}
