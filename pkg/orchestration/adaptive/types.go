// Package adaptive implements the ingestion-boundary orchestrator
// (C7): for every accepted transaction it persists the row, schedules
// evaluation, and schedules delivery for every notification the
// evaluation produces, draining each stage over its own bounded,
// per-user-fair worker pool.
package adaptive

import (
	"context"
	"errors"

	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/evaluator"
)

// ErrRateLimited is returned by Ingest when the evaluation queue is
// already at its configured depth bound; callers at the HTTP boundary
// translate this into a 429 response.
var ErrRateLimited = errors.New("evaluation queue is at capacity")

// TransactionStore persists an accepted transaction before it is
// scheduled for evaluation.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
}

// RuleEvaluator runs every active rule for one transaction, the C4
// contract the orchestrator drives.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, transactionID string) (*evaluator.EvaluationOutcome, error)
}

// NotificationStore loads a notification for dispatch and records the
// outcome of a delivery attempt.
type NotificationStore interface {
	GetByID(ctx context.Context, id string) (*domain.AlertNotification, error)
	AdvanceStatus(ctx context.Context, id string, status domain.NotificationStatus) error
}
