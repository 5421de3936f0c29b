package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/graddescent/internal/descent"
	"github.com/cwbudde/graddescent/internal/store"
	"gonum.org/v1/gonum/floats"
)

// broadcastInterval throttles per-step progress events so fast runs don't
// flood SSE clients.
const broadcastInterval = 250 * time.Millisecond

// runDescent executes a gradient-descent run in the background.
// Every applied step is written to the trace file under baseDir; progress
// events are broadcast to SSE subscribers; the final record is persisted to
// recordStore when it is non-nil.
func runDescent(ctx context.Context, rm *RunManager, recordStore store.Store, baseDir, runID string) error {
	run, exists := rm.GetRun(runID)
	if !exists {
		return fmt.Errorf("run not found: %s", runID)
	}
	config := run.Config

	if err := rm.UpdateRun(runID, func(r *Run) {
		r.State = StateRunning
	}); err != nil {
		return err
	}

	slog.Info("Starting run", "run_id", runID, "objective", config.Objective)

	obj, ok := descent.LookupObjective(config.Objective)
	if !ok {
		err := fmt.Errorf("unknown objective: %s", config.Objective)
		markRunFailed(rm, runID, err)
		return err
	}

	opt, err := descent.New(obj.Fn, obj.Grad)
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}

	var traceWriter *store.TraceWriter
	if baseDir != "" {
		traceWriter, err = store.NewTraceWriter(baseDir, runID, false)
		if err != nil {
			markRunFailed(rm, runID, fmt.Errorf("failed to create trace writer: %w", err))
			return err
		}
		defer traceWriter.Close()
	}

	// Check for cancellation before starting the loop; the descent itself
	// runs to completion once started.
	select {
	case <-ctx.Done():
		markRunCancelled(rm, runID)
		return ctx.Err()
	default:
	}

	lr := config.LearningRate
	iteration := 0
	lastBroadcast := time.Time{}

	onStep := func(step descent.Step) {
		stepNorm := lr * floats.Norm(step.Gradient, 2)

		if traceWriter != nil {
			entry := store.TraceEntry{
				Iteration: iteration,
				X:         step.X,
				Gradient:  step.Gradient,
				StepNorm:  stepNorm,
				Timestamp: time.Now(),
			}
			if err := traceWriter.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "run_id", runID, "error", err)
			}
		}

		iteration++

		rm.UpdateRun(runID, func(r *Run) {
			r.Iterations = iteration
			r.FinalStepNorm = stepNorm
		})

		if time.Since(lastBroadcast) >= broadcastInterval {
			lastBroadcast = time.Now()
			rm.broadcaster.Broadcast(ProgressEvent{
				RunID:     runID,
				State:     StateRunning,
				Iteration: iteration,
				StepNorm:  stepNorm,
				Timestamp: time.Now(),
			})
		}
	}

	start := time.Now()
	result, err := opt.Optimize(descent.Options{
		Start:        config.Start,
		LearningRate: config.LearningRate,
		MaxIter:      config.MaxIter,
		Eps:          config.Eps,
		Dim:          config.Dim,
		Rand:         rand.New(rand.NewSource(config.Seed)),
		OnStep:       onStep,
	})
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}
	elapsed := time.Since(start)

	// Flush the trace before announcing completion so clients reacting to
	// the terminal state see the full trajectory.
	if traceWriter != nil {
		if err := traceWriter.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "run_id", runID, "error", err)
		}
	}

	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateCompleted
		r.FinalPoint = result.Point
		r.Converged = result.Converged
		r.Iterations = result.Iterations
		r.EndTime = &endTime
	})

	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:     runID,
		State:     StateCompleted,
		Iteration: result.Iterations,
		Converged: result.Converged,
		Timestamp: endTime,
	})

	if recordStore != nil {
		if err := saveRunRecord(rm, recordStore, runID); err != nil {
			slog.Error("Failed to save run record", "run_id", runID, "error", err)
		}
	}

	slog.Info("Run complete",
		"run_id", runID,
		"elapsed", elapsed,
		"iterations", result.Iterations,
		"converged", result.Converged,
	)

	return nil
}

// saveRunRecord persists the final state of a run
func saveRunRecord(rm *RunManager, recordStore store.Store, runID string) error {
	run, exists := rm.GetRun(runID)
	if !exists {
		return fmt.Errorf("run not found: %s", runID)
	}

	record := store.NewRunRecord(
		runID,
		run.FinalPoint,
		run.Converged,
		run.Iterations,
		run.FinalStepNorm,
		run.Config,
	)

	if err := recordStore.SaveRecord(runID, record); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	slog.Debug("Run record saved", "run_id", runID)
	return nil
}

// markRunFailed marks the run as failed and broadcasts the terminal state
func markRunFailed(rm *RunManager, runID string, err error) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateFailed
		r.Error = err.Error()
		r.EndTime = &endTime
	})
	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:     runID,
		State:     StateFailed,
		Timestamp: endTime,
	})
	slog.Error("Run failed", "run_id", runID, "error", err)
}

// markRunCancelled marks the run as cancelled
func markRunCancelled(rm *RunManager, runID string) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateCancelled
		r.EndTime = &endTime
	})
	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:     runID,
		State:     StateCancelled,
		Timestamp: endTime,
	})
	slog.Info("Run cancelled", "run_id", runID)
}
