// Package notifyadapter adapts the data store's User/CreditCard
// lookups onto the delivery package's narrow RecipientLookup and
// WebhookDestinationLookup interfaces, and onto the rule compiler's
// and evaluator's identically-shaped SQLRunner interfaces, so neither
// of those packages needs to depend on pkg/datastorage/repository.
package notifyadapter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spendmonitor/alertengine/pkg/datastorage/repository"
	"github.com/spendmonitor/alertengine/pkg/evaluator"
	"github.com/spendmonitor/alertengine/pkg/notification/delivery"
	"github.com/spendmonitor/alertengine/pkg/rulecompiler"
)

// UserContactLookup resolves the email address a notification should
// go to for a given user.
type UserContactLookup struct {
	users *repository.UserRepository
}

// NewUserContactLookup wraps a UserRepository for email delivery.
func NewUserContactLookup(users *repository.UserRepository) *UserContactLookup {
	return &UserContactLookup{users: users}
}

// EmailForUser implements delivery.RecipientLookup.
func (l *UserContactLookup) EmailForUser(ctx context.Context, userID string) (string, error) {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// WebhookDestinationTable resolves a user's configured webhook
// endpoint and signing secret directly from the webhook_destinations
// table, a narrower surface than the general repository layer.
type WebhookDestinationTable struct {
	db *sql.DB
}

// NewWebhookDestinationTable wires a lookup against an open *sql.DB.
func NewWebhookDestinationTable(db *sql.DB) *WebhookDestinationTable {
	return &WebhookDestinationTable{db: db}
}

// WebhookForUser implements delivery.WebhookDestinationLookup.
// jwt_secret is nullable: most destinations authenticate with the
// HMAC body signature alone, and only opt into the additional bearer
// token when they've configured one.
func (t *WebhookDestinationTable) WebhookForUser(ctx context.Context, userID string) (delivery.WebhookDestination, error) {
	const query = `SELECT endpoint, secret, jwt_secret FROM webhook_destinations WHERE user_id = $1`

	var (
		dest      delivery.WebhookDestination
		jwtSecret sql.NullString
	)
	err := t.db.QueryRowContext(ctx, query, userID).Scan(&dest.Endpoint, &dest.Secret, &jwtSecret)
	if err != nil {
		return delivery.WebhookDestination{}, err
	}
	if jwtSecret.Valid {
		dest.JWTSecret = jwtSecret.String
	}
	return dest, nil
}

// SlackWebhookForUser implements delivery.SlackDestinationLookup.
func (t *WebhookDestinationTable) SlackWebhookForUser(ctx context.Context, userID string) (string, error) {
	const query = `SELECT slack_webhook FROM webhook_destinations WHERE user_id = $1`

	var url sql.NullString
	if err := t.db.QueryRowContext(ctx, query, userID).Scan(&url); err != nil {
		return "", err
	}
	if !url.Valid || url.String == "" {
		return "", fmt.Errorf("no slack webhook configured for user %s", userID)
	}
	return url.String, nil
}

// EvaluatorSQLRunner adapts *repository.SQLExecutor onto the
// evaluator's SQLRunner interface.
type EvaluatorSQLRunner struct {
	executor *repository.SQLExecutor
}

// NewEvaluatorSQLRunner wraps executor for the evaluator package.
func NewEvaluatorSQLRunner(executor *repository.SQLExecutor) *EvaluatorSQLRunner {
	return &EvaluatorSQLRunner{executor: executor}
}

// RunRuleSQL implements evaluator.SQLRunner.
func (a *EvaluatorSQLRunner) RunRuleSQL(ctx context.Context, sqlText string, params map[string]interface{}, userID string) (*evaluator.SQLRunResult, error) {
	triggered, observed, baseline, detail, err := a.executor.Run(ctx, sqlText, params, userID)
	if err != nil {
		return nil, err
	}
	return &evaluator.SQLRunResult{Triggered: triggered, Observed: observed, Baseline: baseline, Detail: detail}, nil
}

// CompilerSQLRunner adapts *repository.SQLExecutor onto the rule
// compiler's SQLRunner interface, used for dry-run validation of a
// freshly synthesized rule before it is persisted.
type CompilerSQLRunner struct {
	executor *repository.SQLExecutor
}

// NewCompilerSQLRunner wraps executor for the rulecompiler package.
func NewCompilerSQLRunner(executor *repository.SQLExecutor) *CompilerSQLRunner {
	return &CompilerSQLRunner{executor: executor}
}

// RunRuleSQL implements rulecompiler.SQLRunner.
func (a *CompilerSQLRunner) RunRuleSQL(ctx context.Context, sqlText string, params map[string]interface{}, userID string) (*rulecompiler.SQLRunResult, error) {
	triggered, observed, baseline, detail, err := a.executor.Run(ctx, sqlText, params, userID)
	if err != nil {
		return nil, err
	}
	return &rulecompiler.SQLRunResult{Triggered: triggered, Observed: observed, Baseline: baseline, Detail: detail}, nil
}
