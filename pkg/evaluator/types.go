// Package evaluator implements the rule evaluator (C4): for every
// ingested transaction it partitions the user's active rules into
// cheap, in-process predicates and SQL rules, runs each in
// deterministic order, and inserts one AlertNotification per
// triggered rule per channel.
package evaluator

import (
	"context"
	"errors"
	"time"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// ErrDuplicateNotification is returned by NotificationRepository.Insert
// when the (rule_id, transaction_id, channel) uniqueness constraint
// already has a row; the evaluator treats this as success, not
// failure, since it means the notification was already created by a
// prior (possibly retried) evaluation of the same transaction.
var ErrDuplicateNotification = errors.New("notification already exists for this rule, transaction, and channel")

// TransactionRepository reads a single ingested transaction.
type TransactionRepository interface {
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
}

// UserRepository reads a single account holder and records the
// coordinates of their most recent transaction, the signal the
// behavioural analyzer's impossible-travel check compares the next
// transaction against.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpdateLastKnownLocation(ctx context.Context, userID string, coords domain.Coordinates, observedAt time.Time) error
}

// RuleRepository reads a user's active rules and records a trigger.
type RuleRepository interface {
	ListActiveRulesForUser(ctx context.Context, userID string) ([]*domain.AlertRule, error)
	RecordTrigger(ctx context.Context, ruleID string, triggeredAt time.Time) error
}

// NotificationRepository inserts notifications idempotently on the
// (rule_id, transaction_id, channel) uniqueness constraint.
type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.AlertNotification) (*domain.AlertNotification, error)
}

// SQLRunner executes a compiled rule's SQL against one user's
// transaction history with a hard timeout, returning the required
// single-row shape.
type SQLRunner interface {
	RunRuleSQL(ctx context.Context, sqlText string, params map[string]interface{}, userID string) (*SQLRunResult, error)
}

// SQLRunResult is the single row a rule's SQL must return.
type SQLRunResult struct {
	Triggered bool
	Observed  *float64
	Baseline  *float64
	Detail    map[string]interface{}
}

// FXConverter converts an amount from one currency to another using a
// fixed daily-rate table loaded at startup. ErrRateMissing signals a
// currency pair the table has no rate for.
type FXConverter interface {
	Convert(amount float64, from, to string) (float64, error)
}

// ErrRateMissing is returned by an FXConverter when no rate is on file
// for the requested currency pair; the evaluator skips the rule for
// this transaction rather than erroring the whole evaluation.
var ErrRateMissing = errors.New("fx_missing")

// EvaluationOutcome summarises one Evaluate call for metrics/logging.
type EvaluationOutcome struct {
	TransactionID        string
	RulesEvaluated       int
	RulesTriggered       int
	RulesSkipped         int
	NotificationsCreated int
	// Notifications holds every notification inserted by this
	// Evaluate call, for a caller (C7) to schedule dispatch without a
	// separate store round-trip.
	Notifications []*domain.AlertNotification
}
