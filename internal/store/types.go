package store

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RunConfig holds the parameters of one gradient-descent run, shared between
// the CLI, the server API, and persisted records.
type RunConfig struct {
	// Objective names a registered benchmark objective.
	Objective string `json:"objective" yaml:"objective" validate:"required"`

	// Start is the initial point; empty means a random standard-normal draw.
	Start []float64 `json:"start,omitempty" yaml:"start,omitempty"`

	// LearningRate scales the gradient per step.
	LearningRate float64 `json:"learningRate" yaml:"learningRate" validate:"gt=0"`

	// MaxIter caps the number of iterations.
	MaxIter int `json:"maxIter" yaml:"maxIter" validate:"gt=0"`

	// Eps is the convergence threshold on the step norm.
	Eps float64 `json:"eps" yaml:"eps" validate:"gt=0"`

	// Dim is the length of the random starting point when Start is empty.
	Dim int `json:"dim,omitempty" yaml:"dim,omitempty" validate:"gte=0"`

	// Seed initializes the random source for the starting point.
	Seed int64 `json:"seed" yaml:"seed"`
}

// Validate checks the config against its field constraints.
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}
	if len(c.Start) > 0 && c.Dim > 0 && c.Dim != len(c.Start) {
		return fmt.Errorf("invalid run config: start has %d elements but dim is %d", len(c.Start), c.Dim)
	}
	return nil
}

// RunRecord is the persisted outcome of one descent run.
// All fields are serialized to JSON for persistence. The step-by-step
// trajectory is not stored here; it lives in the trace.jsonl file next to
// the record (see TraceWriter).
type RunRecord struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"runId"`

	// FinalPoint is the point the descent ended at.
	FinalPoint []float64 `json:"finalPoint"`

	// Converged reports whether the step norm dropped below eps before the
	// iteration budget ran out.
	Converged bool `json:"converged"`

	// Iterations is the number of applied updates.
	Iterations int `json:"iterations"`

	// FinalStepNorm is the norm of the last applied update step.
	FinalStepNorm float64 `json:"finalStepNorm"`

	// Timestamp records when this record was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the run parameters, kept so a stored run can be
	// re-executed or used as the starting point of a new one.
	Config RunConfig `json:"config"`
}

// NewRunRecord creates a record from run results.
func NewRunRecord(runID string, finalPoint []float64, converged bool, iterations int, finalStepNorm float64, config RunConfig) *RunRecord {
	return &RunRecord{
		RunID:         runID,
		FinalPoint:    finalPoint,
		Converged:     converged,
		Iterations:    iterations,
		FinalStepNorm: finalStepNorm,
		Timestamp:     time.Now(),
		Config:        config,
	}
}

// RunInfo contains metadata about a stored run without the point data.
// Used for listing runs without loading full records.
type RunInfo struct {
	RunID      string    `json:"runId"`
	Objective  string    `json:"objective"`
	Dim        int       `json:"dim"`
	Converged  bool      `json:"converged"`
	Iterations int       `json:"iterations"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToInfo converts a full RunRecord to its listing metadata.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:      r.RunID,
		Objective:  r.Config.Objective,
		Dim:        len(r.FinalPoint),
		Converged:  r.Converged,
		Iterations: r.Iterations,
		Timestamp:  r.Timestamp,
	}
}

// Validate checks that the record is complete enough to persist.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("invalid run record: runID cannot be empty")
	}
	if len(r.FinalPoint) == 0 {
		return fmt.Errorf("invalid run record: final point cannot be empty")
	}
	if r.Iterations < 0 {
		return fmt.Errorf("invalid run record: iterations cannot be negative")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("invalid run record: timestamp cannot be zero")
	}
	return r.Config.Validate()
}
