// Package estimator provides the statistical risk estimator client.
//
// The trained classifier runs behind a model-serving HTTP endpoint; this
// package sends it transaction features and reads back a fraud probability.
// The decision threshold comes from a calibration artifact written by the
// training pipeline, not from the model service.
package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrUnavailable indicates the estimator could not produce a probability.
var ErrUnavailable = errors.New("risk estimator unavailable")

const defaultTimeout = 5 * time.Second

// featureRequest is the payload sent to the model-serving endpoint.
type featureRequest struct {
	TransactionID  string  `json:"transaction_id"`
	Amount         float64 `json:"amount"`
	Channel        string  `json:"channel"`
	KYCVerified    bool    `json:"kyc_verified"`
	AccountAgeDays float64 `json:"account_age_days"`
	Hour           int     `json:"hour"`
	Weekday        int     `json:"weekday"`
}

type probabilityResponse struct {
	Probability float64 `json:"probability"`
}

// thresholdArtifact is the calibration file produced by model training.
type thresholdArtifact struct {
	SelectedThreshold float64 `json:"selected_threshold"`
	ModelName         string  `json:"model_name"`
}

// HTTPEstimator implements domain.RiskEstimator against a model-serving
// endpoint.
type HTTPEstimator struct {
	endpoint  string
	client    *http.Client
	threshold float64
}

// New creates an estimator client from configuration. When ThresholdPath is
// set the calibrated threshold is loaded from the artifact; otherwise the
// configured fallback threshold applies.
func New(cfg domain.EstimatorConfig) (*HTTPEstimator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("estimator endpoint is required")
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	threshold := cfg.Threshold
	if cfg.ThresholdPath != "" {
		loaded, err := LoadThreshold(cfg.ThresholdPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load threshold artifact: %w", err)
		}
		threshold = loaded
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("decision threshold %v out of range (0,1)", threshold)
	}

	return &HTTPEstimator{
		endpoint:  cfg.Endpoint,
		client:    &http.Client{Timeout: timeout},
		threshold: threshold,
	}, nil
}

// LoadThreshold reads the calibrated decision threshold from a training
// artifact ({"selected_threshold": 0.5, "model_name": "..."}).
func LoadThreshold(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var artifact thresholdArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return 0, fmt.Errorf("failed to parse threshold artifact: %w", err)
	}
	if artifact.SelectedThreshold <= 0 || artifact.SelectedThreshold >= 1 {
		return 0, fmt.Errorf("threshold artifact value %v out of range (0,1)", artifact.SelectedThreshold)
	}
	return artifact.SelectedThreshold, nil
}

// Estimate sends transaction features to the model endpoint and returns the
// fraud probability in [0,1].
func (e *HTTPEstimator) Estimate(ctx context.Context, tx *domain.Transaction) (float64, error) {
	payload := featureRequest{
		TransactionID:  tx.ID,
		Amount:         tx.Amount,
		Channel:        string(tx.Channel),
		KYCVerified:    tx.KYCVerified,
		AccountAgeDays: tx.AccountAgeDays,
		Hour:           tx.Hour(),
		Weekday:        int(tx.Weekday()),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, data)
	}

	var out probabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("%w: probability %v out of range [0,1]", ErrUnavailable, out.Probability)
	}

	return out.Probability, nil
}

// Threshold returns the calibrated decision threshold.
func (e *HTTPEstimator) Threshold() float64 {
	return e.threshold
}

// Static is a fixed-probability estimator for development and tests.
type Static struct {
	Probability float64
	Cutoff      float64
	Err         error
}

func (s *Static) Estimate(ctx context.Context, tx *domain.Transaction) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Probability, nil
}

func (s *Static) Threshold() float64 {
	if s.Cutoff == 0 {
		return 0.5
	}
	return s.Cutoff
}
