package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/keyword"
	"github.com/opensource-finance/kestrel/internal/refdata"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Deps are the components served over HTTP. Cache, Bus and RefData are
// optional.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Processor *decision.Processor
	Keywords  *keyword.Scorer
	RefData   *refdata.Service
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	processor *decision.Processor
	keywords  *keyword.Scorer
	refdata   *refdata.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		engine:    deps.Engine,
		processor: deps.Processor,
		keywords:  deps.Keywords,
		refdata:   deps.RefData,
		version:   deps.Version,
	}
}

// AssessResponse is the response for POST /transactions/assess.
type AssessResponse struct {
	*domain.Decision
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Assess handles POST /transactions/assess requests.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var c domain.TransactionCandidate
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	d, err := h.processor.Assess(ctx, &c)
	if err != nil {
		// Unknown accounts are a problem with the request, not the route.
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err, "assessment failed")
		return
	}

	resp := AssessResponse{Decision: d}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Submit handles POST /transactions/submit. The candidate is queued for the
// async worker and the decision is published on the bus.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var c domain.TransactionCandidate
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	requestID := GetRequestID(ctx)
	if err := worker.Submit(ctx, h.bus, requestID, &c); err != nil {
		writeError(w, err, "failed to submit transaction")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": requestID,
		"status":    "submitted",
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

// Ready reports ready once at least one rule is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.engine.RulesCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, err, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListExecutions returns the rule execution logs of a transaction.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	logs, err := h.repo.ListExecutionLogs(r.Context(), txID)
	if err != nil {
		writeError(w, err, "failed to list execution logs")
		return
	}
	if logs == nil {
		logs = []*domain.RuleExecutionLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"txId":       txID,
		"executions": logs,
		"count":      len(logs),
	})
}

// Approve releases a flagged or blocked transaction.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	tx, err := h.processor.Approve(r.Context(), chi.URLParam(r, "id"), GetOfficer(r.Context()))
	if err != nil {
		writeError(w, err, "approval failed")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Reject closes a flagged or blocked transaction without moving money.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	tx, err := h.processor.Reject(r.Context(), chi.URLParam(r, "id"), GetOfficer(r.Context()))
	if err != nil {
		writeError(w, err, "rejection failed")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListAlerts returns alerts, optionally filtered by ?status=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", domain.AlertOpen, domain.AlertResolved, domain.AlertEscalated:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be OPEN, RESOLVED or ESCALATED",
		})
		return
	}

	alerts, err := h.repo.ListAlerts(r.Context(), status)
	if err != nil {
		writeError(w, err, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ListRules returns the rules loaded in the engine, in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule validates a rule, saves it and reloads the engine from the
// database.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	for i := range rule.Conditions {
		rule.Conditions[i].RuleID = rule.ID
		if rule.Conditions[i].Position == 0 {
			rule.Conditions[i].Position = i + 1
		}
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeError(w, err, "invalid rule")
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	loaded, err := h.engine.Refresh(ctx, h.repo)
	if err != nil {
		slog.Error("failed to reload rules after create", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule saved but reload failed",
		})
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":   rule,
		"loaded": loaded,
	})
}

// ReloadRules reloads all active rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	loaded, err := h.engine.Refresh(r.Context(), h.repo)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   loaded,
	})
}

// ScoreRequest is the request body for POST /keywords/score.
type ScoreRequest struct {
	Text string `json:"text"`
}

// ScoreResponse is the response for POST /keywords/score.
type ScoreResponse struct {
	Score     int              `json:"score"`
	RiskLevel domain.RiskLevel `json:"riskLevel"`
	Matched   []string         `json:"matched"`
}

// ScoreKeywords scores a free-text description without assessing anything.
func (h *Handler) ScoreKeywords(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	a, err := h.keywords.Assess(r.Context(), req.Text)
	if err != nil {
		writeError(w, err, "keyword scoring failed")
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Score:     a.Score,
		RiskLevel: domain.RiskLevelFor(a.Score),
		Matched:   a.MatchedTerms(),
	})
}

// ReloadKeywords drops the cached keyword list so the next score reads the
// database.
func (h *Handler) ReloadKeywords(w http.ResponseWriter, r *http.Request) {
	if h.refdata != nil {
		if err := h.refdata.InvalidateKeywords(r.Context()); err != nil {
			writeError(w, err, "failed to invalidate keywords")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "keyword cache invalidated",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to HTTP status codes. Unmapped errors are
// logged and reported as msg.
func writeError(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTransaction), errors.Is(err, domain.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
