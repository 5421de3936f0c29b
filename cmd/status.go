package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server status or a specific run",
	Long: `Queries the run server for status information.
If no run-id is provided, lists all runs.
If a run-id is provided, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listRuns(fmt.Sprintf("%s/api/v1/runs", serverURL))
	}

	runID := args[0]
	return getRunStatus(fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, runID), runID)
}

func listRuns(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var runs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("Found %d run(s):\n\n", len(runs))
	for _, run := range runs {
		fmt.Printf("Run ID: %s\n", run["id"])
		fmt.Printf("  State: %s\n", run["state"])
		if config, ok := run["config"].(map[string]interface{}); ok {
			fmt.Printf("  Objective: %s\n", config["objective"])
		}
		fmt.Printf("  Iterations: %v\n", run["iterations"])
		if run["converged"] == true {
			fmt.Printf("  Converged: yes\n")
		}
		fmt.Println()
	}

	return nil
}

func getRunStatus(url, runID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Run: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	if config, ok := status["config"].(map[string]interface{}); ok {
		fmt.Println("Configuration:")
		fmt.Printf("  Objective: %s\n", config["objective"])
		fmt.Printf("  Learning rate: %v\n", config["learningRate"])
		fmt.Printf("  Max iterations: %v\n", config["maxIter"])
		fmt.Printf("  Eps: %v\n", config["eps"])
		fmt.Printf("  Seed: %v\n", config["seed"])
		fmt.Println()
	}

	fmt.Println("Progress:")
	fmt.Printf("  Iterations: %v\n", status["iterations"])
	if status["converged"] == true {
		fmt.Printf("  Converged: yes\n")
	} else {
		fmt.Printf("  Converged: no\n")
	}
	if point, ok := status["finalPoint"].([]interface{}); ok && len(point) > 0 {
		fmt.Printf("  Final point: %v\n", point)
	}
	if norm, ok := status["finalStepNorm"].(float64); ok && norm > 0 {
		fmt.Printf("  Final step norm: %g\n", norm)
	}

	if elapsed, ok := status["elapsed"].(float64); ok {
		fmt.Printf("  Elapsed: %s\n", time.Duration(elapsed*float64(time.Second)).Round(time.Millisecond))
	}
	if ips, ok := status["ips"].(float64); ok && ips > 0 {
		fmt.Printf("  Throughput: %.0f iterations/sec\n", ips)
	}

	if errMsg, ok := status["error"].(string); ok && errMsg != "" {
		fmt.Printf("\nError: %s\n", errMsg)
	}

	return nil
}
