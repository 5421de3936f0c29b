package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := NewServer("127.0.0.1:0", t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postRun(t *testing.T, ts *httptest.Server, config RunConfig) *Run {
	t.Helper()

	body, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	return &run
}

// waitForCompletion polls the status endpoint until the run leaves the
// pending/running states.
func waitForCompletion(t *testing.T, ts *httptest.Server, runID string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/runs/%s/status", ts.URL, runID))
		if err != nil {
			t.Fatalf("Status request failed: %v", err)
		}

		var status map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			resp.Body.Close()
			t.Fatalf("Failed to decode status: %v", err)
		}
		resp.Body.Close()

		state := status["state"].(string)
		if state != string(StatePending) && state != string(StateRunning) {
			return status
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("Run did not finish in time")
	return nil
}

func TestCreateRunAndGetStatus(t *testing.T) {
	_, ts := newTestServer(t)

	run := postRun(t, ts, testConfig())
	if run.ID == "" {
		t.Fatal("Expected run ID in response")
	}

	status := waitForCompletion(t, ts, run.ID)
	if status["state"] != string(StateCompleted) {
		t.Fatalf("Expected completed, got %v (error: %v)", status["state"], status["error"])
	}
	if status["converged"] != true {
		t.Error("Expected converged run")
	}
}

func TestCreateRunValidation(t *testing.T) {
	_, ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing objective", `{}`},
		{"unknown objective", `{"objective":"himmelblau"}`},
		{"negative lr", `{"objective":"quadratic","learningRate":-1}`},
		{"rosenbrock dim too small", `{"objective":"rosenbrock","dim":1}`},
	}

	for _, tc := range cases {
		resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", bytes.NewReader([]byte(tc.body)))
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.name, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func TestListRuns(t *testing.T) {
	_, ts := newTestServer(t)

	run := postRun(t, ts, testConfig())
	waitForCompletion(t, ts, run.ID)

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	if err != nil {
		t.Fatalf("List request failed: %v", err)
	}
	defer resp.Body.Close()

	var runs []Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != run.ID {
		t.Errorf("Listed run ID mismatch: %s vs %s", runs[0].ID, run.ID)
	}
}

func TestGetRunTrace(t *testing.T) {
	_, ts := newTestServer(t)

	run := postRun(t, ts, testConfig())
	status := waitForCompletion(t, ts, run.ID)

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/runs/%s/trace", ts.URL, run.ID))
	if err != nil {
		t.Fatalf("Trace request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var entries []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode trace: %v", err)
	}

	iterations := int(status["iterations"].(float64))
	if len(entries) != iterations {
		t.Errorf("Trace has %d entries for %d iterations", len(entries), iterations)
	}
}

func TestGetUnknownRun(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/runs/no-such-run/status")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteRun(t *testing.T) {
	_, ts := newTestServer(t)

	run := postRun(t, ts, testConfig())
	waitForCompletion(t, ts, run.ID)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/runs/%s", ts.URL, run.ID), nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Delete request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(fmt.Sprintf("%s/api/v1/runs/%s/status", ts.URL, run.ID))
	if err != nil {
		t.Fatalf("Status request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}
