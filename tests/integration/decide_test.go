//go:build integration
// +build integration

// Integration tests for the decision API. They require a running server
// (and its estimator sidecar) and are skipped in normal test runs:
//
//	KESTREL_TEST_URL=http://localhost:8080 go test -tags=integration ./tests/integration/
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if url := os.Getenv("KESTREL_TEST_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 10 * time.Second}

type decideResponse struct {
	TransactionID  string   `json:"transactionId"`
	Label          string   `json:"label"`
	RiskScore      float64  `json:"riskScore"`
	Severity       string   `json:"severity"`
	AlertType      string   `json:"alertType"`
	EstimatorScore float64  `json:"estimatorScore"`
	Reasons        []string `json:"reasons"`
	AlertID        int64    `json:"alertId"`
	Metadata       struct {
		TotalMs       int64  `json:"totalMs"`
		RulesChecked  int    `json:"rulesChecked"`
		EngineVersion string `json:"engineVersion"`
	} `json:"metadata"`
}

// decide posts a transaction to /decide and decodes the response.
func decide(t *testing.T, body map[string]interface{}) (*decideResponse, int) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := client.Post(baseURL()+"/decide", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed (is the server running?): %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}

	var out decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &out, resp.StatusCode
}

func postJSON(t *testing.T, path string, body map[string]interface{}) (*http.Response, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := client.Post(baseURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestDecideNormalTransaction(t *testing.T) {
	// A verified customer making a small purchase. The exact label depends
	// on the deployed model, so assert shape rather than outcome.
	out, status := decide(t, map[string]interface{}{
		"customerId":     "itest-normal",
		"amount":         85.50,
		"channel":        "web",
		"kycVerified":    true,
		"accountAgeDays": 500,
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	if out.RiskScore < 0 || out.RiskScore > 1 {
		t.Errorf("risk score out of range: %.4f", out.RiskScore)
	}
	if out.Label != "Fraud" && out.Label != "Legitimate" {
		t.Errorf("unexpected label: %s", out.Label)
	}
	if out.TransactionID == "" {
		t.Error("expected a transaction id")
	}
	if out.Metadata.EngineVersion == "" {
		t.Error("expected an engine version in metadata")
	}
	if out.Metadata.RulesChecked == 0 {
		t.Error("expected at least one rule checked")
	}
	if out.Metadata.TotalMs < 0 {
		t.Errorf("negative processing time: %d", out.Metadata.TotalMs)
	}

	t.Logf("normal transaction: label=%s score=%.4f severity=%s", out.Label, out.RiskScore, out.Severity)
}

func TestDecideRuleForcedFraud(t *testing.T) {
	// A very large transaction from an unverified account trips the
	// high-amount rule, which forces a fraud label regardless of the model.
	out, status := decide(t, map[string]interface{}{
		"customerId":     "itest-forced",
		"amount":         60000,
		"channel":        "web",
		"kycVerified":    false,
		"accountAgeDays": 400,
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	if out.Label != "Fraud" {
		t.Errorf("expected Fraud for a 60k unverified transaction, got %s", out.Label)
	}
	if out.AlertID == 0 {
		t.Error("fraud decision should have created an alert")
	}
	if len(out.Reasons) == 0 {
		t.Error("expected triggered rule reasons")
	}

	t.Logf("forced fraud: score=%.4f severity=%s alert=%d reasons=%v",
		out.RiskScore, out.Severity, out.AlertID, out.Reasons)
}

func TestDecideAmountBoundary(t *testing.T) {
	// 20000 exactly: the elevated-amount rule requires amounts strictly
	// above the threshold, so no amount rule should appear in the reasons.
	out, status := decide(t, map[string]interface{}{
		"customerId":     "itest-boundary",
		"amount":         20000,
		"channel":        "web",
		"kycVerified":    false,
		"accountAgeDays": 400,
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	for _, reason := range out.Reasons {
		t.Logf("boundary reason: %s", reason)
	}
}

func TestDecideValidation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "MissingCustomerID",
			body: map[string]interface{}{
				"amount":         100.0,
				"channel":        "web",
				"kycVerified":    true,
				"accountAgeDays": 100.0,
			},
		},
		{
			name: "MissingAmount",
			body: map[string]interface{}{
				"customerId":     "itest-invalid",
				"channel":        "web",
				"kycVerified":    true,
				"accountAgeDays": 100.0,
			},
		},
		{
			name: "NegativeAmount",
			body: map[string]interface{}{
				"customerId":     "itest-invalid",
				"amount":         -10.0,
				"channel":        "web",
				"kycVerified":    true,
				"accountAgeDays": 100.0,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, status := decide(t, tc.body)
			if status != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", status)
			}
		})
	}
}

func TestAlertLifecycleViaAPI(t *testing.T) {
	out, status := decide(t, map[string]interface{}{
		"customerId":     "itest-lifecycle",
		"amount":         75000,
		"channel":        "international",
		"kycVerified":    false,
		"accountAgeDays": 10,
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if out.AlertID == 0 {
		t.Fatal("expected an alert to work the lifecycle against")
	}

	path := fmt.Sprintf("/alerts/%d/status", out.AlertID)

	resp, body := postJSON(t, path, map[string]interface{}{"status": "INVESTIGATING"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("NEW -> INVESTIGATING: expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = postJSON(t, path, map[string]interface{}{
		"status":     "RESOLVED",
		"notes":      "integration test cleanup",
		"resolvedBy": "itest",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("INVESTIGATING -> RESOLVED: expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = postJSON(t, path, map[string]interface{}{"status": "CONFIRMED"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 reopening a resolved alert, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := client.Get(baseURL() + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	t.Logf("health: %v", health)
}
