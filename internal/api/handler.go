package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer  *scoring.Service
	alerter *alerts.Manager
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	catalog *rules.Catalog
	version string
}

// NewHandler creates a new API handler.
func NewHandler(scorer *scoring.Service, alerter *alerts.Manager, repo domain.Repository, cache domain.Cache, bus domain.EventBus, catalog *rules.Catalog, version string) *Handler {
	return &Handler{
		scorer:  scorer,
		alerter: alerter,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		catalog: catalog,
		version: version,
	}
}

// TransactionRequest is the request body for POST /decide and POST /ingest.
// Amount, KYCVerified and AccountAgeDays are pointers so an omitted field is
// distinguishable from a legitimate zero value.
type TransactionRequest struct {
	ID             string                 `json:"id,omitempty"`
	CustomerID     string                 `json:"customerId"`
	Amount         *float64               `json:"amount"`
	Channel        string                 `json:"channel"`
	KYCVerified    *bool                  `json:"kycVerified"`
	AccountAgeDays *float64               `json:"accountAgeDays"`
	Timestamp      *time.Time             `json:"timestamp,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// toTransaction builds the domain transaction, filling the optional fields.
// A missing amount, KYC flag or account age is rejected here by name; it is
// never defaulted to zero.
func (req *TransactionRequest) toTransaction() (*domain.Transaction, error) {
	if req.Amount == nil {
		return nil, &domain.ValidationError{Field: "amount", Detail: "is required"}
	}
	if req.KYCVerified == nil {
		return nil, &domain.ValidationError{Field: "kycVerified", Detail: "is required"}
	}
	if req.AccountAgeDays == nil {
		return nil, &domain.ValidationError{Field: "accountAgeDays", Detail: "is required"}
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	return &domain.Transaction{
		ID:             id,
		CustomerID:     req.CustomerID,
		Amount:         *req.Amount,
		Channel:        domain.NormalizeChannel(req.Channel),
		KYCVerified:    *req.KYCVerified,
		AccountAgeDays: *req.AccountAgeDays,
		Timestamp:      ts,
		Metadata:       req.Metadata,
	}, nil
}

// DecideResponse is the response for POST /decide.
type DecideResponse struct {
	*domain.Decision
	AlertID int64 `json:"alertId,omitempty"`
}

// Decide handles POST /decide: synchronous evaluation of one transaction.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		h.writeDecideError(w, req.ID, err)
		return
	}

	decision, err := h.scorer.Decide(ctx, tx)
	if err != nil {
		h.writeDecideError(w, tx.ID, err)
		return
	}

	var alertID int64
	if h.alerter != nil {
		alertID, err = h.alerter.Create(ctx, decision, req.Metadata)
		if err != nil {
			slog.Error("failed to create alert",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, DecideResponse{
		Decision: decision,
		AlertID:  alertID,
	})
}

// writeDecideError maps pipeline errors onto HTTP statuses.
func (h *Handler) writeDecideError(w http.ResponseWriter, txID string, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": vErr.Error(),
		})
	case errors.Is(err, estimator.ErrUnavailable):
		slog.Error("estimator unavailable", "transaction_id", txID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "risk estimator unavailable",
		})
	default:
		slog.Error("decision failed", "transaction_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "decision failed",
		})
	}
}

// Ingest handles POST /ingest: asynchronous evaluation via the event bus.
// The transaction is validated, published, and picked up by the worker.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if err := tx.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode transaction",
		})
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish transaction", "transaction_id", tx.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus unavailable",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transactionId": tx.ID,
		"status":        "accepted",
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListAlerts handles GET /alerts with optional filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.AlertFilter{
		CustomerID: q.Get("customerId"),
		Severity:   domain.Severity(q.Get("severity")),
		Status:     domain.AlertStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		filter.Limit = limit
	}

	result, err := h.alerter.List(ctx, filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": result,
		"count":  len(result),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id must be an integer",
		})
		return
	}

	alert, err := h.alerter.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to get alert", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// UpdateAlertStatusRequest is the request body for POST /alerts/{id}/status.
type UpdateAlertStatusRequest struct {
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
}

// UpdateAlertStatus handles lifecycle transitions on an alert.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id must be an integer",
		})
		return
	}

	var req UpdateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	err = h.alerter.UpdateStatus(ctx, id, domain.AlertStatus(req.Status), req.Notes, req.ResolvedBy)
	switch {
	case err == nil:
	case errors.Is(err, alerts.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	case errors.Is(err, alerts.ErrTerminalStatus):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	default:
		slog.Error("failed to update alert status", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update alert status",
		})
		return
	}

	alert, err := h.alerter.Get(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     id,
			"status": req.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AlertStats handles GET /alerts/stats with an optional time window.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var window domain.StatsWindow
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "start must be RFC3339",
			})
			return
		}
		window.Start = &t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "end must be RFC3339",
			})
			return
		}
		window.End = &t
	}

	stats, err := h.alerter.Stats(ctx, window)
	if err != nil {
		slog.Error("failed to compute alert stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute alert stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListPredictions handles GET /predictions/history.
func (h *Handler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	records, err := h.repo.ListPredictions(ctx, limit)
	if err != nil {
		slog.Error("failed to list predictions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list predictions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": records,
		"count":       len(records),
	})
}

// RuleDescriptor is the read-only catalog view returned by GET /rules.
type RuleDescriptor struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
}

// ListRules returns the rule catalog. Reading the catalog freezes it, which
// is fine: by the time the server handles requests registration is over.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	catalogRules := h.catalog.Rules()

	descriptors := make([]RuleDescriptor, 0, len(catalogRules))
	for _, rule := range catalogRules {
		descriptors = append(descriptors, RuleDescriptor{
			Name:     rule.Name,
			Priority: rule.Priority,
			Reason:   rule.Reason,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": descriptors,
		"count": len(descriptors),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
