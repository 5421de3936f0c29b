package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	RunID     string    `json:"runId"`
	State     RunState  `json:"state"`
	Iteration int       `json:"iteration"`
	StepNorm  float64   `json:"stepNorm"`
	Converged bool      `json:"converged"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBroadcaster manages SSE connections for a run
type EventBroadcaster struct {
	mu        sync.RWMutex
	clients   map[string]map[chan ProgressEvent]bool // runID -> set of client channels
	lastEvent map[string]ProgressEvent               // runID -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan ProgressEvent]bool),
		lastEvent: make(map[string]ProgressEvent),
	}
}

// Subscribe adds a client to receive events for a run
func (eb *EventBroadcaster) Subscribe(runID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 10) // Buffered to prevent blocking

	if eb.clients[runID] == nil {
		eb.clients[runID] = make(map[chan ProgressEvent]bool)
	}
	eb.clients[runID][ch] = true

	// Send last event if available (for reconnecting clients)
	if lastEvent, ok := eb.lastEvent[runID]; ok {
		select {
		case ch <- lastEvent:
		default:
		}
	}

	slog.Debug("SSE client subscribed", "runID", runID, "total_clients", len(eb.clients[runID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (eb *EventBroadcaster) Unsubscribe(runID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		delete(clients, ch)
		close(ch)

		if len(clients) == 0 {
			delete(eb.clients, runID)
		}
	}

	slog.Debug("SSE client unsubscribed", "runID", runID)
}

// Broadcast sends an event to all subscribed clients for a run
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	// Full lock: lastEvent is written here, and concurrent runs broadcast
	// from their own goroutines.
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.RunID] = event

	clients, ok := eb.clients[event.RunID]
	if !ok || len(clients) == 0 {
		return
	}

	for ch := range clients {
		select {
		case ch <- event:
		default:
			// Channel full, skip this client (prevents blocking)
			slog.Warn("SSE channel full, skipping event", "runID", event.RunID)
		}
	}
}

// CleanupRun removes all clients and cached events for a run
func (eb *EventBroadcaster) CleanupRun(runID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		for ch := range clients {
			close(ch)
		}
		delete(eb.clients, runID)
	}

	delete(eb.lastEvent, runID)
	slog.Debug("Cleaned up SSE resources", "runID", runID)
}

// handleRunStream handles SSE connections for run progress
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request, runID string) {
	run, exists := s.runManager.GetRun(runID)
	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	eventChan := s.runManager.broadcaster.Subscribe(runID)
	defer s.runManager.broadcaster.Unsubscribe(runID, eventChan)

	// Send initial event with current run state
	initialEvent := ProgressEvent{
		RunID:     run.ID,
		State:     run.State,
		Iteration: run.Iterations,
		StepNorm:  run.FinalStepNorm,
		Converged: run.Converged,
		Timestamp: time.Now(),
	}

	if err := writeSSEEvent(w, initialEvent); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()

	// Ping ticker keeps the connection alive through idle proxies
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "runID", runID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}

			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// SSE format: "data: {json}\n\n"
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
