// Package httpapi exposes the read API, the document upload endpoint, the
// websocket event stream and the Prometheus metrics endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenantguard/backend/internal/cache"
	"github.com/tenantguard/backend/internal/contextloop"
	"github.com/tenantguard/backend/internal/events"
	"github.com/tenantguard/backend/internal/intake"
	"github.com/tenantguard/backend/internal/stream"
	"github.com/tenantguard/backend/internal/vault"
)

// maxUploadBytes bounds document uploads.
const maxUploadBytes = 20 << 20

// Server bundles the API dependencies.
type Server struct {
	Bus       *events.Bus
	Loop      *contextloop.Loop
	Hub       *stream.Hub
	Pipeline  *intake.Pipeline
	Vault     *vault.Engine
	Snapshots *cache.Snapshots // optional
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/events", s.Hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users/{id}/state", s.handleState).Methods("GET")
	api.HandleFunc("/users/{id}/context", s.handleContext).Methods("GET")
	api.HandleFunc("/users/{id}/intensity", s.handleIntensity).Methods("GET")
	api.HandleFunc("/users/{id}/documents", s.handleUpload).Methods("POST")
	api.HandleFunc("/users/{id}/documents/{doc}", s.handleDocumentRead).Methods("GET")
	api.HandleFunc("/events/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/vault/{user}/files", s.handleVaultList).Methods("GET")

	r.Use(loggingMiddleware)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tenantguard-api",
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if s.Snapshots != nil {
		if view, ok := s.Snapshots.Get(r.Context(), userID); ok {
			writeJSON(w, http.StatusOK, view)
			return
		}
	}

	view := s.Loop.GetState(userID)
	if s.Snapshots != nil {
		s.Snapshots.Put(r.Context(), userID, view)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Loop.GetContext(mux.Vars(r)["id"]))
}

func (s *Server) handleIntensity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Loop.GetIntensityReport(mux.Vars(r)["id"]))
}

// handleUpload stores the file through the vault, then drives it through the
// intake pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty upload", http.StatusBadRequest)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "filename query parameter required", http.StatusBadRequest)
		return
	}
	mime := r.Header.Get("Content-Type")
	hint := r.URL.Query().Get("hint")

	actor := vault.Actor{
		ID:        userID,
		Role:      vault.RoleUser,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if _, err := s.Vault.Write(r.Context(), actor, "/users/"+userID+"/docs", filename, mime, data); err != nil {
		if errors.Is(err, vault.ErrDenied) {
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		slog.Warn("upload storage failed", "user_id", userID, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	res, err := s.Pipeline.Process(r.Context(), userID, data, string(data), filename, mime, hint)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.Snapshots != nil {
		s.Snapshots.Invalidate(r.Context(), userID)
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res.Document)
}

// handleDocumentRead serves document bytes through the vault and verifies the
// content hash against the registry. A tampered document is still returned,
// flagged through the integrity header.
func (s *Server) handleDocumentRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, docID := vars["id"], vars["doc"]

	doc := s.Pipeline.Document(docID)
	if doc == nil || doc.UserID != userID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	actor := vault.Actor{
		ID:        userID,
		Role:      vault.RoleUser,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	data, err := s.Vault.Read(r.Context(), actor, "/users/"+userID+"/docs/"+doc.Filename)
	if err != nil {
		if errors.Is(err, vault.ErrDenied) {
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	doc, _ = s.Pipeline.VerifyRead(docID, userID, data)
	if doc.Mime != "" {
		w.Header().Set("Content-Type", doc.Mime)
	}
	w.Header().Set("X-Document-Integrity", doc.Integrity)
	w.Write(data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	history := s.Bus.History(events.Type(q.Get("event_type")), q.Get("user_id"), limit)
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleVaultList(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	actor := vault.Actor{
		ID:        userID,
		Role:      vault.RoleUser,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	files, err := s.Vault.List(r.Context(), actor, "/users/"+userID+"/docs", true)
	if err != nil {
		if errors.Is(err, vault.ErrDenied) {
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
