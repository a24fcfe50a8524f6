// Package httpapi exposes the ingestion and rule-authoring HTTP
// surface (§6): transaction ingestion, rule validation/CRUD, each
// backed by the compiler (C3) and orchestrator (C7) rather than
// talking to the data store directly.
package httpapi

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// requestValidator is the one struct-tag validator instance every
// handler in this package shares; per the library's own docs it is
// safe for concurrent use once built, so a package-level singleton
// avoids paying its reflection-cache warmup on every request.
var requestValidator = sync.OnceValue(validator.New)

type coordinatesPayload struct {
	Lat float64 `json:"lat" validate:"required,latitude"`
	Lon float64 `json:"lon" validate:"required,longitude"`
}

// transactionRequest is the wire shape of POST /transactions.
type transactionRequest struct {
	UserID           string              `json:"user_id" validate:"required"`
	CardID           string              `json:"card_id" validate:"required"`
	Amount           string              `json:"amount" validate:"required,numeric"`
	Currency         string              `json:"currency" validate:"required,len=3,uppercase"`
	MerchantName     string              `json:"merchant_name" validate:"required"`
	MerchantCategory string              `json:"merchant_category" validate:"required"`
	OccurredAt       time.Time           `json:"occurred_at" validate:"required"`
	Coords           *coordinatesPayload `json:"coords,omitempty" validate:"omitempty"`
	Status           string              `json:"status" validate:"omitempty,oneof=PENDING APPROVED DECLINED SETTLED REFUNDED"`
}

// ruleValidateRequest is the wire shape of POST /rules/validate and
// POST /rules.
type ruleValidateRequest struct {
	NLText string `json:"nl_text" validate:"required,min=3"`
}

// ruleValidateResponse reports a compile attempt's terminal outcome
// without persisting anything.
type ruleValidateResponse struct {
	Result          string   `json:"result"`
	Reason          string   `json:"reason,omitempty"`
	Hints           []string `json:"hints,omitempty"`
	Questions       []string `json:"questions,omitempty"`
	DuplicateRuleID string   `json:"duplicate_rule_id,omitempty"`
}

// ruleResponse is the wire shape returned for a persisted rule.
type ruleResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	NLText          string    `json:"nl_text"`
	Name            string    `json:"name"`
	Kind            string    `json:"kind"`
	Severity        string    `json:"severity"`
	Channels        []string  `json:"channels"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	TriggerCount    int64     `json:"trigger_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

func toRuleResponse(r *domain.AlertRule) ruleResponse {
	channels := make([]string, len(r.Channels))
	for i, c := range r.Channels {
		channels[i] = string(c)
	}
	return ruleResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		NLText:          r.NLText,
		Name:            r.Name,
		Kind:            string(r.Kind),
		Severity:        string(r.Severity),
		Channels:        channels,
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt,
		TriggerCount:    r.TriggerCount,
		LastTriggeredAt: r.LastTriggeredAt,
	}
}

// problemResponse is the minimal RFC 7807 shape written for errors
// this package originates itself (schema/decoding failures), distinct
// from the richer validation.RFC7807Problem the data store returns.
type problemResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}
