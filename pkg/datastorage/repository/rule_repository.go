package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/pkg/datastorage/repository/sqlutil"
	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

// RuleRepository persists compiled AlertRule rows produced by the
// rule compiler (C3) and read back by the evaluator (C4).
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository wires a repository against an open *sql.DB.
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// Insert validates and persists a newly compiled rule, returning it
// with its generated ID.
func (r *RuleRepository) Insert(ctx context.Context, rule *domain.AlertRule) (*domain.AlertRule, error) {
	paramsSchema, err := json.Marshal(rule.SQLParamsSchema)
	if err != nil {
		return nil, errorsFailedTo("marshal rule params schema", err)
	}
	triggerSchema, err := json.Marshal(rule.TriggerSchema)
	if err != nil {
		return nil, errorsFailedTo("marshal rule trigger schema", err)
	}
	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return nil, errorsFailedTo("marshal rule channels", err)
	}
	embedding, err := json.Marshal(rule.NLEmbedding)
	if err != nil {
		return nil, errorsFailedTo("marshal rule embedding", err)
	}

	const query = `
		INSERT INTO alert_rules
			(user_id, nl_text, name, kind, sql_text, sql_params_schema, trigger_schema,
			 severity, channels, is_active, created_at, nl_embedding, validated_sql)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	row := r.db.QueryRowContext(ctx, query,
		rule.UserID, rule.NLText, rule.Name, string(rule.Kind), rule.SQLText,
		paramsSchema, triggerSchema, string(rule.Severity), channels, rule.IsActive,
		rule.CreatedAt, embedding, rule.ValidatedSQL,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		r.logger.Error("failed to insert rule", zap.Error(err), zap.String("user_id", rule.UserID))
		return nil, errorsFailedTo("insert rule", err)
	}

	result := *rule
	result.ID = id
	return &result, nil
}

// ListActiveRulesForUser returns every active rule belonging to
// userID, ordered by creation time so the evaluator applies them
// deterministically.
func (r *RuleRepository) ListActiveRulesForUser(ctx context.Context, userID string) ([]*domain.AlertRule, error) {
	const query = `
		SELECT id, user_id, nl_text, name, kind, sql_text, sql_params_schema, trigger_schema,
		       severity, channels, is_active, created_at, last_triggered_at, trigger_count,
		       nl_embedding, validated_sql
		FROM alert_rules
		WHERE user_id = $1 AND is_active = true
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list active rules", zap.Error(err), zap.String("user_id", userID))
		return nil, errorsFailedTo("list active rules", err)
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errorsFailedTo("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsFailedTo("list active rules", err)
	}

	return rules, nil
}

// ListRulesForUser returns every rule belonging to userID regardless
// of active state, for the rule compiler's duplicate-text fallback
// check (the vector store's dedup path this backs up when an
// embedding isn't available yet for a candidate rule).
func (r *RuleRepository) ListRulesForUser(ctx context.Context, userID string) ([]*domain.AlertRule, error) {
	const query = `
		SELECT id, user_id, nl_text, name, kind, sql_text, sql_params_schema, trigger_schema,
		       severity, channels, is_active, created_at, last_triggered_at, trigger_count,
		       nl_embedding, validated_sql
		FROM alert_rules
		WHERE user_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list rules", zap.Error(err), zap.String("user_id", userID))
		return nil, errorsFailedTo("list rules", err)
	}
	defer rows.Close()

	var rules []*domain.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errorsFailedTo("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsFailedTo("list rules", err)
	}

	return rules, nil
}

// GetRule returns the rule with id, or a 404 RFC7807Problem if no
// such row exists.
func (r *RuleRepository) GetRule(ctx context.Context, ruleID string) (*domain.AlertRule, error) {
	const query = `
		SELECT id, user_id, nl_text, name, kind, sql_text, sql_params_schema, trigger_schema,
		       severity, channels, is_active, created_at, last_triggered_at, trigger_count,
		       nl_embedding, validated_sql
		FROM alert_rules WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("alert_rule", ruleID)
		}
		r.logger.Error("failed to retrieve rule", zap.Error(err), zap.String("id", ruleID))
		return nil, errorsFailedTo("retrieve rule", err)
	}
	return rule, nil
}

// Deactivate marks a rule inactive rather than deleting its row, so
// rule history (§6: GET /rules/{id}/history) and in-flight
// evaluations keep a stable reference.
func (r *RuleRepository) Deactivate(ctx context.Context, ruleID string) error {
	const query = `UPDATE alert_rules SET is_active = false WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, ruleID)
	if err != nil {
		r.logger.Error("failed to deactivate rule", zap.Error(err), zap.String("id", ruleID))
		return errorsFailedTo("deactivate rule", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errorsFailedTo("deactivate rule", err)
	}
	if rows == 0 {
		return validation.NewNotFoundProblem("alert_rule", ruleID)
	}
	return nil
}

// UpdateState applies a PATCH /rules/{id} request: isActive and
// severity are each only applied when non-nil, so a caller can change
// one without clobbering the other.
func (r *RuleRepository) UpdateState(ctx context.Context, ruleID string, isActive *bool, severity *domain.Severity) error {
	if isActive == nil && severity == nil {
		return nil
	}

	var (
		query string
		args  []interface{}
	)
	switch {
	case isActive != nil && severity != nil:
		query = `UPDATE alert_rules SET is_active = $1, severity = $2 WHERE id = $3`
		args = []interface{}{*isActive, string(*severity), ruleID}
	case isActive != nil:
		query = `UPDATE alert_rules SET is_active = $1 WHERE id = $2`
		args = []interface{}{*isActive, ruleID}
	default:
		query = `UPDATE alert_rules SET severity = $1 WHERE id = $2`
		args = []interface{}{string(*severity), ruleID}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to update rule state", zap.Error(err), zap.String("id", ruleID))
		return errorsFailedTo("update rule state", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errorsFailedTo("update rule state", err)
	}
	if rows == 0 {
		return validation.NewNotFoundProblem("alert_rule", ruleID)
	}
	return nil
}

// RecordTrigger advances a rule's trigger counter and last-triggered
// timestamp after the evaluator fires it.
func (r *RuleRepository) RecordTrigger(ctx context.Context, ruleID string, triggeredAt time.Time) error {
	const query = `
		UPDATE alert_rules
		SET last_triggered_at = $1, trigger_count = trigger_count + 1
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, triggeredAt, ruleID)
	if err != nil {
		r.logger.Error("failed to record rule trigger", zap.Error(err), zap.String("id", ruleID))
		return errorsFailedTo("record rule trigger", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errorsFailedTo("record rule trigger", err)
	}
	if rows == 0 {
		return validation.NewNotFoundProblem("alert_rule", ruleID)
	}
	return nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows so scanRule serves
// both a single-row lookup and a multi-row listing.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*domain.AlertRule, error) {
	var (
		rule            domain.AlertRule
		kind            string
		paramsSchema    []byte
		triggerSchema   []byte
		severity        string
		channels        []byte
		lastTriggeredAt sql.NullTime
		embedding       []byte
	)

	err := row.Scan(&rule.ID, &rule.UserID, &rule.NLText, &rule.Name, &kind, &rule.SQLText,
		&paramsSchema, &triggerSchema, &severity, &channels, &rule.IsActive, &rule.CreatedAt,
		&lastTriggeredAt, &rule.TriggerCount, &embedding, &rule.ValidatedSQL)
	if err != nil {
		return nil, err
	}

	rule.Kind = domain.RuleKind(kind)
	rule.Severity = domain.Severity(severity)
	rule.LastTriggeredAt = sqlutil.FromNullTime(lastTriggeredAt)

	if len(paramsSchema) > 0 {
		if err := json.Unmarshal(paramsSchema, &rule.SQLParamsSchema); err != nil {
			return nil, err
		}
	}
	if len(triggerSchema) > 0 {
		if err := json.Unmarshal(triggerSchema, &rule.TriggerSchema); err != nil {
			return nil, err
		}
	}
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &rule.Channels); err != nil {
			return nil, err
		}
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &rule.NLEmbedding); err != nil {
			return nil, err
		}
	}

	return &rule, nil
}
