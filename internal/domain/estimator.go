package domain

import "context"

// RiskEstimator is the trained statistical classifier, treated as an opaque
// collaborator. Estimate returns a fraud probability in [0,1] for a
// transaction. How the model is trained, persisted, or loaded is not this
// module's concern.
//
// Estimator failure is fatal to the decide call for that transaction: a
// fabricated fallback probability would corrupt the fused score.
type RiskEstimator interface {
	Estimate(ctx context.Context, tx *Transaction) (float64, error)

	// Threshold is the externally supplied decision threshold used only for
	// the raw-label computation. Probability >= Threshold is Fraud.
	Threshold() float64
}

// EstimatorConfig configures the HTTP estimator client and its threshold
// artifact.
type EstimatorConfig struct {
	// Endpoint is the model-serving URL, e.g. http://localhost:9090/predict.
	Endpoint string `yaml:"endpoint"`

	// TimeoutSeconds bounds a single estimate call.
	TimeoutSeconds int `yaml:"timeoutSeconds"`

	// ThresholdPath is a JSON artifact carrying the calibrated decision
	// threshold ({"selected_threshold": 0.5, "model_name": "..."}).
	ThresholdPath string `yaml:"thresholdPath"`

	// Threshold is the fallback when no artifact is configured.
	Threshold float64 `yaml:"threshold"`
}
