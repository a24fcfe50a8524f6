package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/spendmonitor/alertengine/pkg/behavior"
	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/telemetry"
)

// sqlTimeout bounds a single rule's SQL execution, per T_sql (default
// 2s).
const sqlTimeout = 2 * time.Second

// Evaluator implements C4: for one ingested transaction, it loads the
// user's active rules, partitions them into cheap and SQL rules, and
// evaluates each in deterministic (created_at, id) order, inserting
// one AlertNotification per triggered rule per channel.
type Evaluator struct {
	transactions      TransactionRepository
	users             UserRepository
	rules             RuleRepository
	notifications     NotificationRepository
	sqlRunner         SQLRunner
	fx                FXConverter
	analyzer          *behavior.Analyzer
	reportingCurrency string
	sqlRuleDuration   metric.Float64Histogram
	log               *logrus.Logger
}

// New wires an Evaluator. fx may be nil; a nil converter treats any
// currency mismatch as a missing rate.
func New(
	transactions TransactionRepository,
	users UserRepository,
	rules RuleRepository,
	notifications NotificationRepository,
	sqlRunner SQLRunner,
	fx FXConverter,
	reportingCurrency string,
	log *logrus.Logger,
) *Evaluator {
	if reportingCurrency == "" {
		reportingCurrency = "USD"
	}
	sqlRuleDuration, _ := telemetry.Meter().Float64Histogram(
		"alertengine.evaluator.sql_rule_duration",
		metric.WithDescription("Duration of a non-cheap rule's SQL execution."),
		metric.WithUnit("ms"),
	)
	return &Evaluator{
		transactions:      transactions,
		users:             users,
		rules:             rules,
		notifications:     notifications,
		sqlRunner:         sqlRunner,
		fx:                fx,
		analyzer:          behavior.NewAnalyzer(),
		reportingCurrency: reportingCurrency,
		sqlRuleDuration:   sqlRuleDuration,
		log:               log,
	}
}

// Evaluate runs every active rule for transactionID's owner against
// that transaction, in deterministic order, and returns a summary of
// what happened. SQL and per-rule failures are recorded and skipped;
// only a data-store failure loading the transaction/user/rule list
// itself is returned as an error (for C7 to retry).
func (e *Evaluator) Evaluate(ctx context.Context, transactionID string) (*EvaluationOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "evaluator.Evaluate",
		trace.WithAttributes(attribute.String("alertengine.transaction_id", transactionID)))
	defer span.End()

	txn, err := e.transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	user, err := e.users.GetUser(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", txn.UserID, err)
	}

	activeRules, err := e.rules.ListActiveRulesForUser(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules for user %s: %w", txn.UserID, err)
	}

	sort.Slice(activeRules, func(i, j int) bool {
		if activeRules[i].CreatedAt.Equal(activeRules[j].CreatedAt) {
			return activeRules[i].ID < activeRules[j].ID
		}
		return activeRules[i].CreatedAt.Before(activeRules[j].CreatedAt)
	})

	outcome := &EvaluationOutcome{TransactionID: transactionID}

	normalizedAmount, err := e.normalizeAmount(txn)
	if err != nil {
		e.log.WithError(err).WithField("transaction_id", transactionID).Warn("skipping evaluation, currency conversion unavailable")
		outcome.RulesSkipped = len(activeRules)
		return outcome, nil
	}

	for _, rule := range activeRules {
		outcome.RulesEvaluated++

		triggered, observed, baseline, detail, risk, err := e.evaluateRule(ctx, rule, txn, user, normalizedAmount)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"rule_id":        rule.ID,
				"transaction_id": transactionID,
			}).Warn("rule evaluation failed, skipping")
			outcome.RulesSkipped++
			continue
		}
		if !triggered {
			continue
		}

		outcome.RulesTriggered++

		severity := rule.Severity
		if rule.Kind == domain.RuleKindLocation && risk == behavior.LocationRiskImpossibleTravel {
			severity = domain.SeverityHigh
		}

		created, err := e.notify(ctx, rule, txn, severity, observed, baseline, detail)
		if err != nil {
			e.log.WithError(err).WithField("rule_id", rule.ID).Warn("failed to record rule trigger")
			continue
		}
		outcome.NotificationsCreated += len(created)
		outcome.Notifications = append(outcome.Notifications, created...)

		if err := e.rules.RecordTrigger(ctx, rule.ID, txn.OccurredAt); err != nil {
			e.log.WithError(err).WithField("rule_id", rule.ID).Warn("failed to record rule trigger stats")
		}
	}

	if txn.Coords != nil {
		if err := e.users.UpdateLastKnownLocation(ctx, txn.UserID, *txn.Coords, txn.OccurredAt); err != nil {
			e.log.WithError(err).WithField("user_id", txn.UserID).Warn("failed to update last known location")
		}
	}

	return outcome, nil
}

// normalizeAmount converts txn's amount into the evaluator's
// reporting currency so every rule's threshold comparisons operate in
// one unit.
func (e *Evaluator) normalizeAmount(txn *domain.Transaction) (float64, error) {
	amount, _ := txn.Amount.Float64()
	if strings.EqualFold(txn.Currency, e.reportingCurrency) {
		return amount, nil
	}
	if e.fx == nil {
		return 0, ErrRateMissing
	}
	return e.fx.Convert(amount, txn.Currency, e.reportingCurrency)
}

func (e *Evaluator) evaluateRule(
	ctx context.Context,
	rule *domain.AlertRule,
	txn *domain.Transaction,
	user *domain.User,
	normalizedAmount float64,
) (triggered bool, observed, baseline *float64, detail map[string]interface{}, risk behavior.LocationRisk, err error) {
	geoScope, _ := rule.TriggerSchema["geo_scope"].(string)
	risk = behavior.LocationRiskNone

	if IsCheap(rule, geoScope) {
		converted := *txn
		converted.Amount = decimal.NewFromFloat(normalizedAmount)
		triggered, observed, risk, err = EvaluateCheap(rule, &converted, user)
		return triggered, observed, nil, nil, risk, err
	}

	if rule.Kind == domain.RuleKindLocation {
		risk = e.analyzer.LocationRisk(user, txn, user.LastKnownAt)
	}

	if e.sqlRunner == nil {
		return false, nil, nil, nil, risk, errors.New("no SQL runner configured for non-cheap rule")
	}

	params := map[string]interface{}{
		"user_id":      txn.UserID,
		"txn_id":       txn.ID,
		"window_start": windowStart(rule, txn.OccurredAt),
		"window_end":   txn.OccurredAt,
	}
	for k, v := range rule.TriggerSchema {
		params[k] = v
	}

	runCtx, cancel := context.WithTimeout(ctx, sqlTimeout)
	defer cancel()

	started := time.Now()
	result, err := e.sqlRunner.RunRuleSQL(runCtx, rule.SQLText, params, txn.UserID)
	if e.sqlRuleDuration != nil {
		e.sqlRuleDuration.Record(ctx, float64(time.Since(started).Milliseconds()),
			metric.WithAttributes(attribute.String("alertengine.rule_kind", string(rule.Kind))))
	}
	if err != nil {
		return false, nil, nil, nil, risk, fmt.Errorf("SQL rule execution failed: %w", err)
	}

	if txn.Status == domain.TransactionRefunded &&
		(rule.Kind == domain.RuleKindThreshold || rule.Kind == domain.RuleKindPctDeltaVsBaseline) {
		return false, nil, nil, nil, risk, nil
	}

	return result.Triggered, result.Observed, result.Baseline, result.Detail, risk, nil
}

func windowStart(rule *domain.AlertRule, occurredAt time.Time) time.Time {
	seconds, ok := rule.TriggerSchema["window_seconds"].(float64)
	if !ok || seconds <= 0 {
		seconds = (30 * 24 * time.Hour).Seconds()
	}
	return occurredAt.Add(-time.Duration(seconds) * time.Second)
}

// notify inserts one AlertNotification per channel in rule.Channels,
// relying on the (rule_id, transaction_id, channel) uniqueness
// constraint for idempotency: a duplicate insert from a retried
// evaluation is treated as already-delivered, not an error.
func (e *Evaluator) notify(
	ctx context.Context,
	rule *domain.AlertRule,
	txn *domain.Transaction,
	severity domain.Severity,
	observed, baseline *float64,
	detail map[string]interface{},
) ([]*domain.AlertNotification, error) {
	title, body := renderNotification(rule, txn, observed, baseline, detail)

	var created []*domain.AlertNotification
	for _, channel := range rule.Channels {
		n := &domain.AlertNotification{
			RuleID:        rule.ID,
			UserID:        rule.UserID,
			TransactionID: txn.ID,
			Channel:       channel,
			Severity:      severity,
			Transaction:   txn,
			Title:         title,
			Body:          body,
			Status:        domain.NotificationQueued,
			CreatedAt:     time.Now().UTC(),
		}

		inserted, err := e.notifications.Insert(ctx, n)
		if err != nil {
			if errors.Is(err, ErrDuplicateNotification) {
				continue
			}
			return created, err
		}
		created = append(created, inserted)
	}
	return created, nil
}

func renderNotification(rule *domain.AlertRule, txn *domain.Transaction, observed, baseline *float64, detail map[string]interface{}) (title, body string) {
	title = fmt.Sprintf("%s triggered", rule.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "Your rule %q matched a transaction of %s %s at %s.",
		rule.NLText, txn.Amount.StringFixed(2), txn.Currency, txn.MerchantName)
	if observed != nil {
		fmt.Fprintf(&b, " Observed: %.2f.", *observed)
	}
	if baseline != nil {
		fmt.Fprintf(&b, " Baseline: %.2f.", *baseline)
	}
	if merchant, ok := detail["merchant"]; ok && merchant != nil {
		fmt.Fprintf(&b, " Merchant: %v.", merchant)
	}
	if rawQuery, ok := rule.TriggerSchema["detail_query"].(string); ok && rawQuery != "" {
		if extra, err := queryDetail(rawQuery, detail); err == nil && extra != nil {
			fmt.Fprintf(&b, " %v.", extra)
		}
	}
	return title, b.String()
}

// queryDetail runs a jq-style expression against a rule's detail
// payload, letting an authored rule's TriggerSchema (e.g. a recurring-
// drift rule's "detail_query": ".merchant + \" every \" + (.period_days|tostring) + \" days\"")
// pull a richer, rule-specific fragment into its notification body
// without this package hard-coding a field per rule kind.
func queryDetail(expr string, detail map[string]interface{}) (interface{}, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid detail_query: %w", err)
	}

	iter := query.Run(detail)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}
