package store

import (
	"testing"
	"time"
)

func validConfig() RunConfig {
	return RunConfig{
		Objective:    "quadratic",
		LearningRate: 0.1,
		MaxIter:      100,
		Eps:          1e-6,
		Seed:         42,
	}
}

func TestRunConfigValidate(t *testing.T) {
	config := validConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Valid config failed validation: %v", err)
	}
}

func TestRunConfigValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing objective", func(c *RunConfig) { c.Objective = "" }},
		{"zero learning rate", func(c *RunConfig) { c.LearningRate = 0 }},
		{"negative learning rate", func(c *RunConfig) { c.LearningRate = -0.1 }},
		{"zero max iter", func(c *RunConfig) { c.MaxIter = 0 }},
		{"zero eps", func(c *RunConfig) { c.Eps = 0 }},
		{"negative dim", func(c *RunConfig) { c.Dim = -1 }},
		{"start/dim mismatch", func(c *RunConfig) { c.Start = []float64{1, 2}; c.Dim = 3 }},
	}

	for _, tc := range cases {
		config := validConfig()
		tc.mutate(&config)
		if err := config.Validate(); err == nil {
			t.Errorf("Expected validation error for %s", tc.name)
		}
	}
}

func TestRunRecordValidate(t *testing.T) {
	record := NewRunRecord("run-1", []float64{3.0}, true, 58, 1e-7, validConfig())
	if err := record.Validate(); err != nil {
		t.Errorf("Valid record failed validation: %v", err)
	}
}

func TestRunRecordValidateRejectsMissingFields(t *testing.T) {
	base := func() *RunRecord {
		return NewRunRecord("run-1", []float64{3.0}, true, 58, 1e-7, validConfig())
	}

	record := base()
	record.RunID = ""
	if err := record.Validate(); err == nil {
		t.Error("Expected error for empty run ID")
	}

	record = base()
	record.FinalPoint = nil
	if err := record.Validate(); err == nil {
		t.Error("Expected error for empty final point")
	}

	record = base()
	record.Iterations = -1
	if err := record.Validate(); err == nil {
		t.Error("Expected error for negative iterations")
	}

	record = base()
	record.Timestamp = time.Time{}
	if err := record.Validate(); err == nil {
		t.Error("Expected error for zero timestamp")
	}

	record = base()
	record.Config.Objective = ""
	if err := record.Validate(); err == nil {
		t.Error("Expected error for invalid embedded config")
	}
}

func TestRunRecordToInfo(t *testing.T) {
	record := NewRunRecord("run-1", []float64{1, 2, 3}, false, 100, 0.5, validConfig())
	info := record.ToInfo()

	if info.RunID != "run-1" {
		t.Errorf("Expected run ID run-1, got %s", info.RunID)
	}
	if info.Objective != "quadratic" {
		t.Errorf("Expected objective quadratic, got %s", info.Objective)
	}
	if info.Dim != 3 {
		t.Errorf("Expected dim 3, got %d", info.Dim)
	}
	if info.Converged {
		t.Error("Expected converged=false")
	}
	if info.Iterations != 100 {
		t.Errorf("Expected 100 iterations, got %d", info.Iterations)
	}
}
