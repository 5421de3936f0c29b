package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/cwbudde/graddescent/internal/store"
	"github.com/google/uuid"
)

// RunState represents the current state of a run
type RunState string

const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunConfig is an alias to avoid duplication with store.RunConfig
type RunConfig = store.RunConfig

// Run represents one gradient-descent run managed by the server
type Run struct {
	ID            string     `json:"id"`
	State         RunState   `json:"state"`
	Config        RunConfig  `json:"config"`
	FinalPoint    []float64  `json:"finalPoint,omitempty"`
	Converged     bool       `json:"converged"`
	Iterations    int        `json:"iterations"`
	FinalStepNorm float64    `json:"finalStepNorm"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// RunManager manages the lifecycle of runs
type RunManager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	broadcaster *EventBroadcaster
}

// NewRunManager creates a new RunManager
func NewRunManager() *RunManager {
	return &RunManager{
		runs:        make(map[string]*Run),
		broadcaster: NewEventBroadcaster(),
	}
}

// snapshot returns a copy of the run safe to use outside the manager's lock.
// The worker goroutine keeps mutating the stored struct, so handing out the
// live pointer would race with every reader.
func (r *Run) snapshot() Run {
	snap := *r
	if r.FinalPoint != nil {
		snap.FinalPoint = append([]float64(nil), r.FinalPoint...)
	}
	if r.EndTime != nil {
		endTime := *r.EndTime
		snap.EndTime = &endTime
	}
	return snap
}

// CreateRun creates a new run with the given configuration
func (rm *RunManager) CreateRun(config RunConfig) Run {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run := &Run{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	rm.runs[run.ID] = run
	return run.snapshot()
}

// GetRun retrieves a copy of a run by ID
func (rm *RunManager) GetRun(id string) (Run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	run, exists := rm.runs[id]
	if !exists {
		return Run{}, false
	}
	return run.snapshot(), true
}

// ListRuns returns copies of all runs
func (rm *RunManager) ListRuns() []Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	runs := make([]Run, 0, len(rm.runs))
	for _, run := range rm.runs {
		runs = append(runs, run.snapshot())
	}
	return runs
}

// UpdateRun atomically updates a run using the provided function
func (rm *RunManager) UpdateRun(id string, updateFn func(*Run)) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, exists := rm.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}

	updateFn(run)
	return nil
}

// RemoveRun drops a run from the manager
func (rm *RunManager) RemoveRun(id string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.runs, id)
}

// GetActiveRuns returns copies of all runs currently in the running state
func (rm *RunManager) GetActiveRuns() []Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	active := make([]Run, 0)
	for _, run := range rm.runs {
		if run.State == StateRunning {
			active = append(active, run.snapshot())
		}
	}
	return active
}
