// Package server exposes the blob service over HTTP: the library
// upload/fetch surface, the cross-device write endpoints, and the
// token-gated admin routes.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// DefaultMaxUploadBytes caps multipart uploads at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

// Server serves the HTTP API. Construct with NewServer, then call
// ListenAndServe or use Handler directly (tests).
type Server struct {
	service    *blob.Service
	syncer     *blob.SyncCoordinator
	logger     blob.Logger
	adminToken string
	maxUpload  int64
	deviceID   string

	httpSrv *http.Server
}

// NewServer wires the routes. adminToken may be empty, in which case
// every admin request is rejected.
func NewServer(addr string, service *blob.Service, syncer *blob.SyncCoordinator, logger blob.Logger, adminToken string, maxUpload int64, deviceID string) *Server {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	s := &Server{
		service:    service,
		syncer:     syncer,
		logger:     logger,
		adminToken: adminToken,
		maxUpload:  maxUpload,
		deviceID:   deviceID,
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/library/upload", s.handleUpload)
	mux.HandleFunc("POST /api/library/create-markdown", s.handleCreateMarkdown)
	mux.HandleFunc("GET /api/blob/{sha256}", s.handleGetBlob)
	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("POST /api/writes/blobs", s.handleWriteBlob)
	mux.HandleFunc("POST /api/admin/sync-blob", s.requireAdmin(s.handleSyncBlob))
	mux.HandleFunc("GET /api/admin/blobs", s.requireAdmin(s.handleAdminBlobs))
	mux.HandleFunc("DELETE /api/admin/blobs/{hash}", s.requireAdmin(s.handleDeleteBlob))
	mux.HandleFunc("PATCH /api/admin/blobs/{hash}", s.requireAdmin(s.handleRenameBlob))
	mux.HandleFunc("GET /api/admin/stats", s.requireAdmin(s.handleStats))
	return mux
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requireAdmin wraps a handler with bearer-token auth. Comparison is
// constant-time; an empty configured token disables admin access
// entirely rather than opening it.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || s.adminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.writeError(w, r, &blob.AuthRequiredError{})
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// writeError maps domain errors onto HTTP statuses. Infrastructure
// failures get a generic body; details go to the log only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *blob.ValidationError
		notFound   *blob.NotFoundError
		auth       *blob.AuthRequiredError
	)
	switch {
	case errors.As(err, &validation):
		status := http.StatusBadRequest
		if validation.TooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeJSON(w, status, map[string]string{"error": validation.Error()})
	case errors.As(err, &notFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
	case errors.As(err, &auth):
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": auth.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return blob.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
