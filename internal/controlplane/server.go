package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/csvls/internal/metrics"
	"github.com/fentz26/csvls/internal/models"
)

// Server provides the HTTP API for csvls.
type Server struct {
	service *Service
	addr    string
	version string
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		addr:    addr,
		version: version,
		logger:  logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/reinstall", s.handleReinstall)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // reinstall downloads a release
	}

	s.logger.Info("starting control plane", slog.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK        bool   `json:"ok"`
	DB        string `json:"db"`
	Validator bool   `json:"validator"`
	Version   string `json:"version"`
	Time      string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:        true,
		DB:        "ok",
		Validator: s.service.ValidatorAvailable(),
		Version:   s.version,
		Time:      time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		if errors.Is(err, ErrNoHistory) {
			health.DB = "disabled"
		} else {
			health.OK = false
			health.DB = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, health)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeJSON(w, http.StatusOK, s.service.Diagnostics())
		return
	}

	doc, err := s.service.DocumentDiagnostics(uri)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.service.Runs(r.Context(), r.URL.Query().Get("uri"), limit)
	if err != nil {
		if errors.Is(err, ErrNoHistory) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Stats())
}

// ReinstallResponse is the body of POST /reinstall.
type ReinstallResponse struct {
	Installed bool                  `json:"installed"`
	Install   *models.InstallRecord `json:"install,omitempty"`
}

func (s *Server) handleReinstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.service.Reinstall(r.Context()); err != nil {
		s.logger.Warn("reinstall via API failed", slog.Any("error", err))
		writeJSON(w, http.StatusBadGateway, ReinstallResponse{Installed: false})
		return
	}

	resp := ReinstallResponse{Installed: true}
	if rec, err := s.service.LastInstall(r.Context()); err == nil {
		resp.Install = rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
