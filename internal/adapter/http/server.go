package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"vidfetchd/internal/domain"
	"vidfetchd/internal/fs"
	"vidfetchd/internal/worker"
)

// Server is the HTTP adapter for the download service.
type Server struct {
	registry *domain.Registry
	worker   *worker.Worker
	engine   domain.Engine
	mux      *http.ServeMux
	server   *http.Server

	defaultDownloadDir string
	allowedBaseDir     string
	staticDir          string
}

// Options configures the HTTP server.
type Options struct {
	Addr               string
	DefaultDownloadDir string
	AllowedBaseDir     string
	StaticDir          string
}

// NewServer creates a new HTTP server.
func NewServer(registry *domain.Registry, wk *worker.Worker, engine domain.Engine, opts Options) *Server {
	s := &Server{
		registry:           registry,
		worker:             wk,
		engine:             engine,
		mux:                http.NewServeMux(),
		defaultDownloadDir: opts.DefaultDownloadDir,
		allowedBaseDir:     opts.AllowedBaseDir,
		staticDir:          opts.StaticDir,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    opts.Addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/probe", s.handleProbe)
	s.mux.HandleFunc("POST /api/download", s.handleDownload)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /ws/jobs/{id}", s.handleJobStream)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.staticDir != "" {
		s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
		s.mux.HandleFunc("GET /{$}", s.handleIndex)
	}
}

// probeRequest is the request body for POST /api/probe.
type probeRequest struct {
	URL string `json:"url"`
}

// downloadRequest is the request body for POST /api/download.
type downloadRequest struct {
	URL       string `json:"url"`
	FormatID  string `json:"formatId"`
	TargetDir string `json:"targetDir,omitempty"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := domain.ValidateURL(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid URL: only http(s) URLs are supported")
		return
	}

	result, err := s.engine.Probe(r.Context(), req.URL)
	if err != nil {
		log.Printf("probe error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "probe failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.FormatID == "" {
		s.writeError(w, http.StatusBadRequest, "formatId is required")
		return
	}

	targetDir, err := fs.ResolveTargetDir(req.TargetDir, s.defaultDownloadDir, s.allowedBaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrOutsideBase) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("resolve target dir error: %v", err)
		s.writeError(w, http.StatusBadRequest, "invalid target directory")
		return
	}

	snap, err := s.registry.CreateJob(req.URL, req.FormatID, targetDir)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidURL) {
			s.writeError(w, http.StatusBadRequest, "invalid URL")
			return
		}
		log.Printf("create job error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.worker.Start(snap.JobID)
	s.writeJSON(w, http.StatusCreated, map[string]string{"jobId": snap.JobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.GetJob(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("get job error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	accepted := s.registry.RequestCancel(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
