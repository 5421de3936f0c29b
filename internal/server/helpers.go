package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cwbudde/graddescent/internal/descent"
)

// applyConfigDefaults fills unset run parameters with the core defaults
func applyConfigDefaults(config *RunConfig) {
	if config.LearningRate == 0 {
		config.LearningRate = descent.DefaultLearningRate
	}
	if config.MaxIter == 0 {
		config.MaxIter = descent.DefaultMaxIter
	}
	if config.Eps == 0 {
		config.Eps = descent.DefaultEps
	}
}

// pointDim returns the dimensionality a config will run with
func pointDim(config RunConfig) int {
	if len(config.Start) > 0 {
		return len(config.Start)
	}
	if config.Dim > 0 {
		return config.Dim
	}
	return 1
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
