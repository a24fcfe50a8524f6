package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/orchestration/adaptive"
	"github.com/spendmonitor/alertengine/pkg/rulecompiler"
)

// TransactionIngestor schedules a transaction for evaluation (C7).
type TransactionIngestor interface {
	Ingest(ctx context.Context, txn *domain.Transaction) error
}

// CardStore resolves the card a transaction was made on, so ingestion
// can reject activity on a card the issuer has deactivated before it
// ever reaches the evaluator.
type CardStore interface {
	GetCreditCard(ctx context.Context, cardID string) (*domain.CreditCard, error)
}

// RuleCompiler turns one sentence into a compiled rule or a reason it
// couldn't be (C3). Timezone defaults to UTC when a user record isn't
// available to supply one.
type RuleCompiler interface {
	Compile(ctx context.Context, userID, nlText, timezone string) (*rulecompiler.CompileResult, error)
}

// RuleStore is the subset of the rule repository the HTTP surface
// needs for CRUD and history.
type RuleStore interface {
	Insert(ctx context.Context, rule *domain.AlertRule) (*domain.AlertRule, error)
	GetRule(ctx context.Context, ruleID string) (*domain.AlertRule, error)
	ListActiveRulesForUser(ctx context.Context, userID string) ([]*domain.AlertRule, error)
	Deactivate(ctx context.Context, ruleID string) error
	UpdateState(ctx context.Context, ruleID string, isActive *bool, severity *domain.Severity) error
}

// NotificationHistory supplies a rule's delivered-notification audit
// trail for GET /rules/{id}/history. Optional: a Handlers with none
// configured falls back to the rule's own trigger counters.
type NotificationHistory interface {
	ListForRule(ctx context.Context, ruleID string, limit int) ([]*domain.AlertNotification, error)
}

// Handlers wires the ingestion and rule-authoring endpoints to the
// orchestrator, compiler, and rule store.
type Handlers struct {
	ingestor      TransactionIngestor
	compiler      RuleCompiler
	rules         RuleStore
	cards         CardStore
	notifications NotificationHistory
	log           *logrus.Logger
}

// NewHandlers builds a Handlers value.
func NewHandlers(ingestor TransactionIngestor, compiler RuleCompiler, rules RuleStore, cards CardStore, log *logrus.Logger) *Handlers {
	return &Handlers{ingestor: ingestor, compiler: compiler, rules: rules, cards: cards, log: log}
}

// WithNotificationHistory attaches a notification history source,
// enriching GET /rules/{id}/history with each past trigger's channel,
// delivery status, and timestamp.
func (h *Handlers) WithNotificationHistory(n NotificationHistory) *Handlers {
	h.notifications = n
	return h
}

// HandleIngestTransaction implements POST /transactions.
func (h *Handlers) HandleIngestTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed transaction payload")
		return
	}
	if err := requestValidator().Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid transaction payload: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	card, err := h.cards.GetCreditCard(r.Context(), req.CardID)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	if !card.Active {
		writeProblem(w, http.StatusUnprocessableEntity, "card is deactivated")
		return
	}

	txn := &domain.Transaction{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		CardID:           req.CardID,
		Amount:           amount,
		Currency:         req.Currency,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
		OccurredAt:       req.OccurredAt,
		Status:           domain.TransactionStatus(req.Status),
	}
	if req.Coords != nil {
		txn.Coords = &domain.Coordinates{Lat: req.Coords.Lat, Lon: req.Coords.Lon}
	}
	if txn.Status == "" {
		txn.Status = domain.TransactionPending
	}

	if err := h.ingestor.Ingest(r.Context(), txn); err != nil {
		if errors.Is(err, adaptive.ErrRateLimited) {
			writeProblem(w, http.StatusTooManyRequests, "evaluation queue is at capacity")
			return
		}
		h.log.WithError(err).Error("failed to ingest transaction")
		writeProblem(w, http.StatusInternalServerError, "failed to schedule evaluation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"transaction_id": txn.ID})
}

// HandleValidateRule implements POST /rules/validate: it compiles the
// sentence but never persists the result.
func (h *Handlers) HandleValidateRule(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := h.decodeRuleRequest(w, r)
	if !ok {
		return
	}

	result, err := h.compiler.Compile(r.Context(), userID, req.NLText, "UTC")
	if err != nil {
		h.log.WithError(err).Error("rule compile failed")
		writeProblem(w, http.StatusInternalServerError, "failed to compile rule")
		return
	}

	writeJSON(w, http.StatusOK, ruleValidateResponse{
		Result:          string(result.Kind),
		Reason:          result.Reason,
		Hints:           result.Hints,
		Questions:       result.Questions,
		DuplicateRuleID: result.DuplicateRuleID,
	})
}

// HandleCreateRule implements POST /rules: compile then persist
// atomically, so a rule only lands in the store once it is Valid.
func (h *Handlers) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := h.decodeRuleRequest(w, r)
	if !ok {
		return
	}

	result, err := h.compiler.Compile(r.Context(), userID, req.NLText, "UTC")
	if err != nil {
		h.log.WithError(err).Error("rule compile failed")
		writeProblem(w, http.StatusInternalServerError, "failed to compile rule")
		return
	}

	if result.Kind != rulecompiler.CompileValid {
		writeJSON(w, http.StatusUnprocessableEntity, ruleValidateResponse{
			Result:          string(result.Kind),
			Reason:          result.Reason,
			Hints:           result.Hints,
			Questions:       result.Questions,
			DuplicateRuleID: result.DuplicateRuleID,
		})
		return
	}

	result.Rule.CreatedAt = time.Now().UTC()
	result.Rule.IsActive = true
	persisted, err := h.rules.Insert(r.Context(), result.Rule)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRuleResponse(persisted))
}

// HandleListRules implements GET /rules?user_id=...
func (h *Handlers) HandleListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeProblem(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	rules, err := h.rules.ListActiveRulesForUser(r.Context(), userID)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}

	out := make([]ruleResponse, len(rules))
	for i, rule := range rules {
		out[i] = toRuleResponse(rule)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetRule implements the read used by both GET /rules/{id} and
// the history view's current-state portion.
func (h *Handlers) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// rulePatchRequest is the wire shape of PATCH /rules/{id}; both
// fields are optional so a caller can change one without the other.
type rulePatchRequest struct {
	IsActive *bool   `json:"is_active,omitempty"`
	Severity *string `json:"severity,omitempty"`
}

// HandlePatchRule implements PATCH /rules/{id}: toggling is_active or
// changing severity without recompiling the rule.
func (h *Handlers) HandlePatchRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req rulePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed patch payload")
		return
	}

	var severity *domain.Severity
	if req.Severity != nil {
		s := domain.Severity(*req.Severity)
		severity = &s
	}

	if err := h.rules.UpdateState(r.Context(), id, req.IsActive, severity); err != nil {
		writeRepositoryError(w, err)
		return
	}

	rule, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

// HandleDeleteRule implements DELETE /rules/{id}: rules are
// deactivated, never hard-deleted, so notification history and
// in-flight evaluations keep a stable reference.
func (h *Handlers) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.rules.Deactivate(r.Context(), id); err != nil {
		writeRepositoryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRuleHistory implements GET /rules/{id}/history: the rule's
// own trigger_count and last_triggered_at are its audit trail, since
// every trigger also has a durable AlertNotification row.
func (h *Handlers) HandleRuleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	resp := map[string]interface{}{
		"rule_id":           rule.ID,
		"trigger_count":     rule.TriggerCount,
		"last_triggered_at": rule.LastTriggeredAt,
	}

	if h.notifications != nil {
		history, err := h.notifications.ListForRule(r.Context(), id, 50)
		if err != nil {
			writeRepositoryError(w, err)
			return
		}
		resp["notifications"] = history
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) decodeRuleRequest(w http.ResponseWriter, r *http.Request) (ruleValidateRequest, string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeProblem(w, http.StatusBadRequest, "user_id query parameter is required")
		return ruleValidateRequest{}, "", false
	}

	var req ruleValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed rule request")
		return ruleValidateRequest{}, "", false
	}
	if err := requestValidator().Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "nl_text is required")
		return ruleValidateRequest{}, "", false
	}
	return req, userID, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, problemResponse{Title: http.StatusText(status), Status: status, Detail: detail})
}

// writeRepositoryError unwraps a *validation.RFC7807Problem produced
// by the repository layer and writes it verbatim, falling back to a
// generic 500 for anything else.
func writeRepositoryError(w http.ResponseWriter, err error) {
	var problem *validation.RFC7807Problem
	if errors.As(err, &problem) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(problem.Status)
		_ = json.NewEncoder(w).Encode(problem)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "internal error")
}
