// Package worker provides async transaction processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker consumes ingested transactions from the event bus, runs the
// decision pipeline, and materializes fraud alerts.
type Worker struct {
	bus     domain.EventBus
	scorer  *scoring.Service
	alerter *alerts.Manager

	subscription domain.Subscription
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer *scoring.Service, alerter *alerts.Manager) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		scorer:  scorer,
		alerter: alerter,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the ingest topic and begins processing.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscription = sub

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

// handleMessage processes one ingested transaction. Errors are logged and
// returned so the bus can account for them; a bad message never stops the
// worker.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	decision, err := w.scorer.Decide(ctx, &tx)
	if err != nil {
		slog.Error("async decision failed",
			"transaction_id", tx.ID,
			"error", err,
		)
		return err
	}

	if w.alerter != nil {
		if _, err := w.alerter.Create(ctx, decision, nil); err != nil {
			slog.Error("failed to create alert",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Debug("transaction processed",
		"transaction_id", tx.ID,
		"label", decision.Label,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	if w.subscription != nil {
		if err := w.subscription.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", w.subscription.Topic(),
				"error", err,
			)
		}
		w.subscription = nil
	}

	slog.Info("worker stopped")
	return nil
}
