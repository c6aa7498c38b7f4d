package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func estimatorTx() *domain.Transaction {
	return &domain.Transaction{
		ID:             "tx-001",
		CustomerID:     "cust-001",
		Amount:         2500,
		Channel:        domain.ChannelMobile,
		KYCVerified:    true,
		AccountAgeDays: 120,
		Timestamp:      time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC),
	}
}

func TestEstimate(t *testing.T) {
	var captured map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]float64{"probability": 0.42})
	}))
	defer srv.Close()

	est, err := New(domain.EstimatorConfig{Endpoint: srv.URL, Threshold: 0.5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	prob, err := est.Estimate(context.Background(), estimatorTx())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if prob != 0.42 {
		t.Errorf("expected probability 0.42, got %.4f", prob)
	}

	// The feature payload carries the derived time fields.
	if captured["transaction_id"] != "tx-001" {
		t.Errorf("unexpected transaction_id: %v", captured["transaction_id"])
	}
	if captured["amount"] != 2500.0 {
		t.Errorf("unexpected amount: %v", captured["amount"])
	}
	if captured["channel"] != "Mobile" {
		t.Errorf("unexpected channel: %v", captured["channel"])
	}
	if captured["hour"] != 3.0 {
		t.Errorf("expected hour 3 from the transaction timestamp, got %v", captured["hour"])
	}
	if captured["kyc_verified"] != true {
		t.Errorf("unexpected kyc_verified: %v", captured["kyc_verified"])
	}
}

func TestEstimateFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"ServerError", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}},
		{"MalformedBody", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"ProbabilityOutOfRange", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]float64{"probability": 1.7})
		}},
		{"NegativeProbability", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]float64{"probability": -0.1})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			est, err := New(domain.EstimatorConfig{Endpoint: srv.URL, Threshold: 0.5})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			_, err = est.Estimate(context.Background(), estimatorTx())
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestEstimateUnreachableEndpoint(t *testing.T) {
	est, err := New(domain.EstimatorConfig{
		Endpoint:       "http://127.0.0.1:1/predict",
		TimeoutSeconds: 1,
		Threshold:      0.5,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = est.Estimate(context.Background(), estimatorTx())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(domain.EstimatorConfig{Threshold: 0.5}); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := New(domain.EstimatorConfig{Endpoint: "http://x", Threshold: 0}); err == nil {
		t.Error("expected error for threshold 0")
	}
	if _, err := New(domain.EstimatorConfig{Endpoint: "http://x", Threshold: 1}); err == nil {
		t.Error("expected error for threshold 1")
	}
}

func TestLoadThreshold(t *testing.T) {
	dir := t.TempDir()

	t.Run("ValidArtifact", func(t *testing.T) {
		path := filepath.Join(dir, "threshold.json")
		os.WriteFile(path, []byte(`{"selected_threshold": 0.37, "model_name": "gbm-v3"}`), 0o644)

		got, err := LoadThreshold(path)
		if err != nil {
			t.Fatalf("LoadThreshold failed: %v", err)
		}
		if got != 0.37 {
			t.Errorf("expected 0.37, got %v", got)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		path := filepath.Join(dir, "bad-threshold.json")
		os.WriteFile(path, []byte(`{"selected_threshold": 1.5}`), 0o644)

		if _, err := LoadThreshold(path); err == nil {
			t.Error("expected error for out-of-range threshold")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.json")
		os.WriteFile(path, []byte("not json"), 0o644)

		if _, err := LoadThreshold(path); err == nil {
			t.Error("expected error for malformed artifact")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := LoadThreshold(filepath.Join(dir, "absent.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestNewLoadsThresholdArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threshold.json")
	os.WriteFile(path, []byte(`{"selected_threshold": 0.61}`), 0o644)

	est, err := New(domain.EstimatorConfig{
		Endpoint:      "http://localhost:9090/predict",
		ThresholdPath: path,
		Threshold:     0.5, // overridden by the artifact
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if est.Threshold() != 0.61 {
		t.Errorf("expected artifact threshold 0.61, got %v", est.Threshold())
	}
}

func TestStatic(t *testing.T) {
	s := &Static{Probability: 0.8}

	prob, err := s.Estimate(context.Background(), estimatorTx())
	if err != nil || prob != 0.8 {
		t.Errorf("expected (0.8, nil), got (%.2f, %v)", prob, err)
	}
	if s.Threshold() != 0.5 {
		t.Errorf("expected default threshold 0.5, got %v", s.Threshold())
	}

	s.Cutoff = 0.3
	if s.Threshold() != 0.3 {
		t.Errorf("expected overridden threshold 0.3, got %v", s.Threshold())
	}

	s.Err = ErrUnavailable
	if _, err := s.Estimate(context.Background(), estimatorTx()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected the configured error, got %v", err)
	}
}
