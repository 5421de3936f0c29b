package server

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/graddescent/internal/store"
)

func TestRunDescentCompletes(t *testing.T) {
	tmpDir := t.TempDir()

	recordStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	rm := NewRunManager()
	run := rm.CreateRun(testConfig())

	if err := runDescent(context.Background(), rm, recordStore, tmpDir, run.ID); err != nil {
		t.Fatalf("runDescent failed: %v", err)
	}

	got, _ := rm.GetRun(run.ID)
	if got.State != StateCompleted {
		t.Fatalf("Expected completed state, got %s", got.State)
	}
	if !got.Converged {
		t.Error("Expected convergence on the quadratic objective")
	}
	if math.Abs(got.FinalPoint[0]-3) > 1e-3 {
		t.Errorf("Expected final point near 3, got %f", got.FinalPoint[0])
	}
	if got.EndTime == nil {
		t.Error("Expected end time to be set")
	}
}

func TestRunDescentPersistsRecordAndTrace(t *testing.T) {
	tmpDir := t.TempDir()

	recordStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	rm := NewRunManager()
	run := rm.CreateRun(testConfig())

	if err := runDescent(context.Background(), rm, recordStore, tmpDir, run.ID); err != nil {
		t.Fatalf("runDescent failed: %v", err)
	}

	record, err := recordStore.LoadRecord(run.ID)
	if err != nil {
		t.Fatalf("Record not persisted: %v", err)
	}
	if !record.Converged {
		t.Error("Record misses convergence flag")
	}
	if record.Config.Objective != "quadratic" {
		t.Errorf("Record config objective mismatch: %s", record.Config.Objective)
	}

	reader, err := store.NewTraceReader(tmpDir, run.ID)
	if err != nil {
		t.Fatalf("Trace not written: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != record.Iterations {
		t.Errorf("Trace has %d entries for %d iterations", len(entries), record.Iterations)
	}
	for i, entry := range entries {
		if entry.Iteration != i {
			t.Errorf("Trace entry %d has iteration %d", i, entry.Iteration)
		}
	}
}

func TestRunDescentUnknownObjective(t *testing.T) {
	rm := NewRunManager()

	config := testConfig()
	config.Objective = "himmelblau"
	run := rm.CreateRun(config)

	if err := runDescent(context.Background(), rm, nil, "", run.ID); err == nil {
		t.Fatal("Expected error for unknown objective")
	}

	got, _ := rm.GetRun(run.ID)
	if got.State != StateFailed {
		t.Errorf("Expected failed state, got %s", got.State)
	}
	if got.Error == "" {
		t.Error("Expected error message on the run")
	}
}

func TestRunDescentCancelledContext(t *testing.T) {
	rm := NewRunManager()
	run := rm.CreateRun(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runDescent(ctx, rm, nil, "", run.ID); err == nil {
		t.Fatal("Expected context error")
	}

	got, _ := rm.GetRun(run.ID)
	if got.State != StateCancelled {
		t.Errorf("Expected cancelled state, got %s", got.State)
	}
}

func TestRunDescentMissingRun(t *testing.T) {
	rm := NewRunManager()
	if err := runDescent(context.Background(), rm, nil, "", "no-such-run"); err == nil {
		t.Fatal("Expected error for unknown run ID")
	}
}
