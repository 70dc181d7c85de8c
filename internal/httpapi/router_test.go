package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantguard/backend/internal/cache"
	"github.com/tenantguard/backend/internal/contextloop"
	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/intake"
	"github.com/tenantguard/backend/internal/laws"
	"github.com/tenantguard/backend/internal/storage"
	"github.com/tenantguard/backend/internal/stream"
	"github.com/tenantguard/backend/internal/vault"
)

func newServer(t *testing.T) (*Server, *events.Bus, string) {
	t.Helper()
	bus := events.NewBus(events.BusConfig{})

	loop := contextloop.NewLoop(bus, contextloop.Config{})
	loop.Start()

	hub := stream.NewHub(bus)
	bus.RegisterSink(hub)

	root := t.TempDir()
	provider, err := storage.NewLocalProvider(root)
	require.NoError(t, err)
	audit, err := vault.NewAuditLog(t.TempDir())
	require.NoError(t, err)
	eng := vault.NewEngine(provider, vault.NewDirectory(), audit, bus)

	registry := intake.NewRegistry("TG")
	pipeline := intake.NewPipeline(registry, intake.ReferenceClassifier{}, laws.DefaultCorpus(), bus, intake.PipelineConfig{})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = loop.Shutdown(ctx)
		_ = bus.Shutdown(ctx)
		audit.Close()
	})

	return &Server{
		Bus:       bus,
		Loop:      loop,
		Hub:       hub,
		Pipeline:  pipeline,
		Vault:     eng,
		Snapshots: cache.NewSnapshots(cache.NewMemory(), time.Minute),
	}, bus, root
}

func TestHealth(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadDrivesPipelineAndState(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := "NOTICE TO QUIT. You must vacate the premises by 03/15/2030 due to unlawful detainer proceedings."
	resp, err := http.Post(
		srv.URL+"/api/v1/users/u1/documents?filename=notice.txt",
		"text/plain",
		strings.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc intake.RegisteredDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "eviction_notice", doc.DocType)

	// The context loop picks the events up asynchronously.
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/v1/users/u1/context")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var ctx contextloop.UserContext
		if json.NewDecoder(r.Body).Decode(&ctx) != nil {
			return false
		}
		return ctx.Phase == events.PhaseEviction
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUploadValidation(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	// Missing filename.
	resp, err := http.Post(srv.URL+"/api/v1/users/u1/documents", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Empty body.
	resp, err = http.Post(srv.URL+"/api/v1/users/u1/documents?filename=a.txt", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDuplicateUploadReturnsOK(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := srv.URL + "/api/v1/users/u1/documents?filename=lease.txt"
	body := "lease agreement between landlord and tenant"

	resp, err := http.Post(url, "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(url, "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDocumentReadVerifiesIntegrity(t *testing.T) {
	s, bus, root := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body := "lease agreement between landlord and tenant"
	resp, err := http.Post(
		srv.URL+"/api/v1/users/u1/documents?filename=lease.txt",
		"text/plain",
		strings.NewReader(body),
	)
	require.NoError(t, err)
	var doc intake.RegisteredDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	resp.Body.Close()

	readURL := srv.URL + "/api/v1/users/u1/documents/" + doc.DocID

	resp, err = http.Get(readURL)
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, string(got))
	assert.Equal(t, intake.IntegrityVerified, resp.Header.Get("X-Document-Integrity"))

	// Rewrite the stored bytes behind the vault's back.
	onDisk := filepath.Join(root, "users", "u1", "docs", "lease.txt")
	require.NoError(t, os.WriteFile(onDisk, []byte("altered"), 0o644))

	// The read still succeeds but the document comes back flagged.
	resp, err = http.Get(readURL)
	require.NoError(t, err)
	got, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "altered", string(got))
	assert.Equal(t, intake.IntegrityTampered, resp.Header.Get("X-Document-Integrity"))

	stored := s.Pipeline.Document(doc.DocID)
	require.NotNil(t, stored)
	assert.Equal(t, intake.IntegrityTampered, stored.Integrity)
	last := stored.CustodyLog[len(stored.CustodyLog)-1]
	assert.Equal(t, intake.CustodyIntegrityFailed, last.Action)

	require.Eventually(t, func() bool {
		return len(bus.History(events.EventAccessAudit, "u1", 10)) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDocumentReadNotFound(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/users/u1/documents/TG-2026-000001-AAAA")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	s, bus, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		_, err := bus.Publish(events.EventActionTaken, "u1", "test", events.ActionPayload{Action: "noted"})
		require.NoError(t, err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/events/history?user_id=u1&event_type=action_taken&limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Len(t, history, 2)

	resp, err = http.Get(srv.URL + "/api/v1/events/history?limit=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntensityEndpoint(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/users/u1/intensity")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVaultListOwnFiles(t *testing.T) {
	s, _, _ := newServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	_, err := http.Post(
		srv.URL+"/api/v1/users/u1/documents?filename=lease.txt",
		"text/plain",
		strings.NewReader("lease agreement between landlord and tenant"),
	)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/vault/u1/files")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var files []storage.File
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	assert.NotEmpty(t, files)
}
