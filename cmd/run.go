package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/graddescent/internal/descent"
	"github.com/cwbudde/graddescent/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

var (
	objectiveName string
	startStr      string
	startFrom     string
	runDim        int
	learningRate  float64
	maxIterations int
	epsThreshold  float64
	runSeed       int64
	runConfigPath string
	runDataDir    string
	saveRun       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run single-shot gradient descent",
	Long: `Runs gradient descent on a named objective and prints the final
point. With --save, the run record and step trace are persisted under the
data directory; --start-from seeds the start from a stored run's final
point.`,
	RunE: runGradientDescent,
}

func init() {
	runCmd.Flags().StringVar(&objectiveName, "objective", "quadratic", "Objective function name")
	runCmd.Flags().StringVar(&startStr, "start", "", "Initial point as comma-separated floats (default random)")
	runCmd.Flags().StringVar(&startFrom, "start-from", "", "Seed the start from a stored run's final point")
	runCmd.Flags().IntVar(&runDim, "dim", 0, "Dimensionality of the random start (0 = scalar)")
	runCmd.Flags().Float64Var(&learningRate, "lr", descent.DefaultLearningRate, "Learning rate")
	runCmd.Flags().IntVar(&maxIterations, "max-iter", descent.DefaultMaxIter, "Max iterations")
	runCmd.Flags().Float64Var(&epsThreshold, "eps", descent.DefaultEps, "Convergence threshold on the step norm")
	runCmd.Flags().Int64Var(&runSeed, "seed", 42, "Random seed for the starting point")
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "YAML file with run parameters (flags override)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for stored runs")
	runCmd.Flags().BoolVar(&saveRun, "save", false, "Persist the run record and step trace")

	rootCmd.AddCommand(runCmd)
}

func runGradientDescent(cmd *cobra.Command, args []string) error {
	config, err := buildRunConfig(cmd)
	if err != nil {
		return err
	}

	if startFrom != "" {
		runStore, err := store.NewFSStore(runDataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		record, err := runStore.LoadRecord(startFrom)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", startFrom, err)
		}
		config.Start = record.FinalPoint
		slog.Info("Starting from stored run", "run_id", startFrom, "point", record.FinalPoint)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	obj, ok := descent.LookupObjective(config.Objective)
	if !ok {
		return fmt.Errorf("unknown objective %q (available: %s)",
			config.Objective, strings.Join(descent.ObjectiveNames(), ", "))
	}

	opt, err := descent.New(obj.Fn, obj.Grad)
	if err != nil {
		return err
	}

	slog.Info("Starting gradient descent",
		"objective", config.Objective,
		"lr", config.LearningRate,
		"max_iter", config.MaxIter,
		"eps", config.Eps,
	)

	start := time.Now()
	result, err := opt.Optimize(descent.Options{
		Start:        config.Start,
		LearningRate: config.LearningRate,
		MaxIter:      config.MaxIter,
		Eps:          config.Eps,
		Dim:          config.Dim,
		Rand:         rand.New(rand.NewSource(config.Seed)),
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	outcome := "did not converge"
	if result.Converged {
		outcome = "converged"
	}
	fmt.Printf("%s: %s after %d iteration(s) at %s (%s)\n",
		config.Objective, outcome, result.Iterations,
		formatPoint(result.Point), elapsed.Round(time.Millisecond))

	if saveRun {
		runID, err := persistRun(config, result)
		if err != nil {
			return err
		}
		fmt.Printf("Saved run %s\n", runID)
	}

	return nil
}

// buildRunConfig assembles the run configuration from the optional YAML file
// and the command-line flags; explicitly set flags win over file values.
func buildRunConfig(cmd *cobra.Command) (store.RunConfig, error) {
	config := store.RunConfig{
		Objective:    objectiveName,
		LearningRate: learningRate,
		MaxIter:      maxIterations,
		Eps:          epsThreshold,
		Dim:          runDim,
		Seed:         runSeed,
	}

	if runConfigPath != "" {
		data, err := os.ReadFile(runConfigPath)
		if err != nil {
			return config, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Flags the user set explicitly take precedence over the file.
		if cmd.Flags().Changed("objective") {
			config.Objective = objectiveName
		}
		if cmd.Flags().Changed("lr") {
			config.LearningRate = learningRate
		}
		if cmd.Flags().Changed("max-iter") {
			config.MaxIter = maxIterations
		}
		if cmd.Flags().Changed("eps") {
			config.Eps = epsThreshold
		}
		if cmd.Flags().Changed("dim") {
			config.Dim = runDim
		}
		if cmd.Flags().Changed("seed") {
			config.Seed = runSeed
		}
	}

	if startStr != "" {
		startPoint, err := parsePoint(startStr)
		if err != nil {
			return config, fmt.Errorf("invalid --start: %w", err)
		}
		config.Start = startPoint
	}

	return config, nil
}

// persistRun saves the record and step trace of a completed run
func persistRun(config store.RunConfig, result *descent.Result) (string, error) {
	runStore, err := store.NewFSStore(runDataDir)
	if err != nil {
		return "", fmt.Errorf("failed to open run store: %w", err)
	}

	runID := uuid.New().String()

	traceWriter, err := store.NewTraceWriter(runDataDir, runID, false)
	if err != nil {
		return "", fmt.Errorf("failed to create trace writer: %w", err)
	}
	defer traceWriter.Close()

	finalStepNorm := 0.0
	for i, step := range result.History {
		stepNorm := config.LearningRate * floats.Norm(step.Gradient, 2)
		finalStepNorm = stepNorm
		entry := store.TraceEntry{
			Iteration: i,
			X:         step.X,
			Gradient:  step.Gradient,
			StepNorm:  stepNorm,
			Timestamp: time.Now(),
		}
		if err := traceWriter.Write(entry); err != nil {
			return "", fmt.Errorf("failed to write trace entry: %w", err)
		}
	}

	record := store.NewRunRecord(runID, result.Point, result.Converged,
		result.Iterations, finalStepNorm, config)
	if err := runStore.SaveRecord(runID, record); err != nil {
		return "", err
	}

	return runID, nil
}

// parsePoint parses a comma-separated list of floats
func parsePoint(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	point := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", part)
		}
		point = append(point, v)
	}
	return point, nil
}

// formatPoint renders a point compactly for terminal output
func formatPoint(point []float64) string {
	parts := make([]string, len(point))
	for i, v := range point {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
