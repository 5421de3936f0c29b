package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/graddescent/internal/descent"
	"github.com/cwbudde/graddescent/internal/store"
)

// Server exposes gradient-descent runs over HTTP
type Server struct {
	runManager  *RunManager
	recordStore store.Store
	dataDir     string
	addr        string
	server      *http.Server
}

// NewServer creates a new HTTP server persisting run artifacts under dataDir
func NewServer(addr, dataDir string) (*Server, error) {
	recordStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}

	return &Server{
		runManager:  NewRunManager(),
		recordStore: recordStore,
		dataDir:     dataDir,
		addr:        addr,
	}, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr, "data_dir", s.dataDir)
	return s.server.ListenAndServe()
}

// Handler returns the server's HTTP handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRuns handles /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsWithID handles /api/v1/runs/:id/*
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	runID := parts[0]

	if r.Method == http.MethodDelete && len(parts) == 1 {
		s.handleDeleteRun(w, r, runID)
		return
	}

	if len(parts) == 1 || parts[1] == "status" {
		s.handleGetRunStatus(w, r, runID)
	} else if parts[1] == "trace" {
		s.handleGetRunTrace(w, r, runID)
	} else if parts[1] == "events" {
		s.handleRunStream(w, r, runID)
	} else {
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateRun handles POST /api/v1/runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var config RunConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	applyConfigDefaults(&config)

	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	obj, ok := descent.LookupObjective(config.Objective)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown objective: %s (available: %s)",
			config.Objective, strings.Join(descent.ObjectiveNames(), ", ")), http.StatusBadRequest)
		return
	}
	if dim := pointDim(config); dim < obj.MinDim {
		http.Error(w, fmt.Sprintf("Objective %s requires at least %d dimensions, got %d",
			obj.Name, obj.MinDim, dim), http.StatusBadRequest)
		return
	}

	run := s.runManager.CreateRun(config)

	go runDescent(context.Background(), s.runManager, s.recordStore, s.dataDir, run.ID)

	writeJSON(w, http.StatusCreated, run)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runManager.ListRuns())
}

// handleGetRunStatus handles GET /api/v1/runs/:id/status
func (s *Server) handleGetRunStatus(w http.ResponseWriter, r *http.Request, runID string) {
	run, exists := s.runManager.GetRun(runID)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if run.EndTime != nil {
		elapsed = run.EndTime.Sub(run.StartTime)
	} else {
		elapsed = time.Since(run.StartTime)
	}

	ips := float64(0)
	if elapsed.Seconds() > 0 {
		ips = float64(run.Iterations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":            run.ID,
		"state":         run.State,
		"config":        run.Config,
		"finalPoint":    run.FinalPoint,
		"converged":     run.Converged,
		"iterations":    run.Iterations,
		"finalStepNorm": run.FinalStepNorm,
		"elapsed":       elapsed.Seconds(),
		"ips":           ips,
		"startTime":     run.StartTime,
		"endTime":       run.EndTime,
		"error":         run.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetRunTrace handles GET /api/v1/runs/:id/trace
func (s *Server) handleGetRunTrace(w http.ResponseWriter, r *http.Request, runID string) {
	reader, err := store.NewTraceReader(s.dataDir, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trace not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to open trace: %v", err), http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read trace: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleDeleteRun handles DELETE /api/v1/runs/:id
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request, runID string) {
	if run, exists := s.runManager.GetRun(runID); exists && run.State == StateRunning {
		http.Error(w, "Cannot delete a running run", http.StatusConflict)
		return
	}

	err := s.recordStore.DeleteRecord(runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		http.Error(w, fmt.Sprintf("Failed to delete record: %v", err), http.StatusInternalServerError)
		return
	}

	s.runManager.RemoveRun(runID)
	s.runManager.broadcaster.CleanupRun(runID)

	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
