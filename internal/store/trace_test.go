package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "test-run-123"

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Iteration: 0, X: []float64{4}, Gradient: []float64{-6}, StepNorm: 0.6, Timestamp: time.Now()},
		{Iteration: 1, X: []float64{3.2}, Gradient: []float64{-4.8}, StepNorm: 0.48, Timestamp: time.Now()},
		{Iteration: 2, X: []float64{2.56}, Gradient: []float64{-3.84}, StepNorm: 0.384, Timestamp: time.Now()},
	}

	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Fatalf("Trace file not created: %s", tracePath)
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	readEntries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}

	if len(readEntries) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(readEntries))
	}
	for i, entry := range readEntries {
		if entry.Iteration != entries[i].Iteration {
			t.Errorf("Entry %d: iteration %d, expected %d", i, entry.Iteration, entries[i].Iteration)
		}
		if len(entry.X) != 1 || entry.X[0] != entries[i].X[0] {
			t.Errorf("Entry %d: point %v, expected %v", i, entry.X, entries[i].X)
		}
		if entry.StepNorm != entries[i].StepNorm {
			t.Errorf("Entry %d: step norm %f, expected %f", i, entry.StepNorm, entries[i].StepNorm)
		}
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "append-run"

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	if err := writer.Write(TraceEntry{Iteration: 0, X: []float64{1}, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	writer.Close()

	// Reopen in append mode; earlier entries survive.
	writer, err = NewTraceWriter(tmpDir, runID, true)
	if err != nil {
		t.Fatalf("Failed to reopen trace writer: %v", err)
	}
	if err := writer.Write(TraceEntry{Iteration: 1, X: []float64{2}, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries after append, got %d", len(entries))
	}
}

func TestTraceReader_Missing(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), "no-such-run")
	if err == nil {
		t.Fatal("Expected error for missing trace")
	}
}

func TestTraceReader_EOF(t *testing.T) {
	tmpDir := t.TempDir()
	runID := "empty-run"

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF on empty trace, got %v", err)
	}
}
