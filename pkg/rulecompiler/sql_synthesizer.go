package rulecompiler

import (
	"fmt"
	"time"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// defaultWindow is used when a grounded intent omits an explicit
// window (PCT_DELTA_VS_BASELINE and RECURRING_DRIFT default to a
// 30-day lookback, matching the worked example in the acceptance
// scenarios).
const defaultWindow = 30 * 24 * time.Hour

// Synthesizer emits parameterized SQL for a grounded RuleIntent. Every
// template is SELECT-only, single-statement, and returns exactly one
// row shaped (triggered, observed, baseline, detail).
type Synthesizer interface {
	Synthesize(intent *domain.RuleIntent) (sqlText string, paramsSchema map[string]interface{}, err error)
}

// DefaultSynthesizer is the reference Synthesizer: one deterministic
// template per RuleKind, keyed by a handler registry rather than a
// type switch so adding a rule kind means adding a map entry.
type DefaultSynthesizer struct{}

// NewDefaultSynthesizer builds a DefaultSynthesizer.
func NewDefaultSynthesizer() *DefaultSynthesizer {
	return &DefaultSynthesizer{}
}

type synthesizeFunc func(intent *domain.RuleIntent) (string, map[string]interface{}, error)

var synthesizers = map[domain.RuleKind]synthesizeFunc{
	domain.RuleKindThreshold:          synthesizeThreshold,
	domain.RuleKindPctDeltaVsBaseline: synthesizePctDeltaVsBaseline,
	domain.RuleKindMerchantPattern:    synthesizeMerchantPattern,
	domain.RuleKindLocation:           synthesizeLocation,
	domain.RuleKindFrequency:          synthesizeFrequency,
	domain.RuleKindRecurringDrift:     synthesizeRecurringDrift,
	domain.RuleKindCategoryRatio:      synthesizeCategoryRatio,
}

// Synthesize dispatches intent.Kind to its registered template.
func (s *DefaultSynthesizer) Synthesize(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	fn, ok := synthesizers[intent.Kind]
	if !ok {
		return "", nil, fmt.Errorf("no SQL template registered for rule kind %q", intent.Kind)
	}
	return fn(intent)
}

func baseParamsSchema() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      "uuid",
		"txn_id":       "uuid",
		"window_start": "timestamp",
		"window_end":   "timestamp",
	}
}

func synthesizeThreshold(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	if intent.Operator == "" {
		return "", nil, fmt.Errorf("threshold rule requires an operator")
	}
	sql := fmt.Sprintf(`SELECT
  (t.amount %s :amount) AS triggered,
  t.amount AS observed,
  NULL AS baseline,
  jsonb_build_object('merchant', t.merchant_name, 'category', t.merchant_category) AS detail
FROM transactions t
WHERE t.user_id = :user_id AND t.id = :txn_id AND t.occurred_at BETWEEN :window_start AND :window_end`, string(intent.Operator))

	params := baseParamsSchema()
	params["amount"] = "numeric"
	return sql, params, nil
}

func synthesizePctDeltaVsBaseline(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	aggregate := baselineAggregate(intent.Baseline)
	sql := fmt.Sprintf(`SELECT
  (t.amount > (SELECT %s(amount) FROM transactions WHERE user_id = :user_id AND merchant_category = :category AND occurred_at BETWEEN :window_start AND :window_end) * (1 + :threshold_pct / 100.0)) AS triggered,
  t.amount AS observed,
  (SELECT %s(amount) FROM transactions WHERE user_id = :user_id AND merchant_category = :category AND occurred_at BETWEEN :window_start AND :window_end) AS baseline,
  jsonb_build_object('category', :category) AS detail
FROM transactions t
WHERE t.user_id = :user_id AND t.id = :txn_id AND t.occurred_at BETWEEN :window_start AND :window_end`, aggregate, aggregate)

	params := baseParamsSchema()
	params["category"] = "text"
	params["threshold_pct"] = "numeric"
	return sql, params, nil
}

func synthesizeMerchantPattern(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	var predicate string
	params := baseParamsSchema()
	switch {
	case intent.Merchant != "":
		predicate = "t.merchant_name ILIKE '%' || :merchant || '%'"
		params["merchant"] = "text"
	case intent.Category != "":
		predicate = "t.merchant_category = :category"
		params["category"] = "text"
	default:
		return "", nil, fmt.Errorf("merchant pattern rule requires a merchant or category")
	}

	sql := fmt.Sprintf(`SELECT
  (%s) AS triggered,
  t.amount AS observed,
  NULL AS baseline,
  jsonb_build_object('merchant', t.merchant_name, 'category', t.merchant_category) AS detail
FROM transactions t
WHERE t.user_id = :user_id AND t.id = :txn_id AND t.occurred_at BETWEEN :window_start AND :window_end`, predicate)

	return sql, params, nil
}

func synthesizeLocation(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	sql := `SELECT
  (t.lat IS NOT NULL AND t.lon IS NOT NULL AND u.home_lat IS NOT NULL AND u.home_lon IS NOT NULL) AS triggered,
  NULL AS observed,
  NULL AS baseline,
  jsonb_build_object('lat', t.lat, 'lon', t.lon, 'geo_scope', :geo_scope) AS detail
FROM transactions t
JOIN users u ON u.id = t.user_id
WHERE t.user_id = :user_id AND t.id = :txn_id AND t.occurred_at BETWEEN :window_start AND :window_end`

	params := baseParamsSchema()
	params["geo_scope"] = "text"
	return sql, params, nil
}

func synthesizeFrequency(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	sql := `SELECT
  (COUNT(*) > :amount) AS triggered,
  COUNT(*)::numeric AS observed,
  NULL AS baseline,
  jsonb_build_object('window_start', :window_start, 'window_end', :window_end) AS detail
FROM transactions t
WHERE t.user_id = :user_id AND t.occurred_at BETWEEN :window_start AND :window_end`

	params := baseParamsSchema()
	params["amount"] = "numeric"
	return sql, params, nil
}

func synthesizeRecurringDrift(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	sql := `SELECT
  (t.amount <> (SELECT AVG(amount) FROM transactions WHERE user_id = :user_id AND merchant_name = :merchant AND occurred_at BETWEEN :window_start AND :window_end AND id <> :txn_id)) AS triggered,
  t.amount AS observed,
  (SELECT AVG(amount) FROM transactions WHERE user_id = :user_id AND merchant_name = :merchant AND occurred_at BETWEEN :window_start AND :window_end AND id <> :txn_id) AS baseline,
  jsonb_build_object('merchant', :merchant) AS detail
FROM transactions t
WHERE t.user_id = :user_id AND t.id = :txn_id AND t.merchant_name = :merchant AND t.occurred_at BETWEEN :window_start AND :window_end`

	params := baseParamsSchema()
	params["merchant"] = "text"
	return sql, params, nil
}

func synthesizeCategoryRatio(intent *domain.RuleIntent) (string, map[string]interface{}, error) {
	sql := `SELECT
  ((SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = :user_id AND merchant_category = :category AND occurred_at BETWEEN :window_start AND :window_end)
    > (SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = :user_id AND occurred_at BETWEEN :window_start AND :window_end) * (:threshold_pct / 100.0)) AS triggered,
  (SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = :user_id AND merchant_category = :category AND occurred_at BETWEEN :window_start AND :window_end) AS observed,
  (SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = :user_id AND occurred_at BETWEEN :window_start AND :window_end) AS baseline,
  jsonb_build_object('category', :category) AS detail
FROM transactions t
WHERE t.user_id = :user_id AND t.id = :txn_id AND t.occurred_at BETWEEN :window_start AND :window_end`

	params := baseParamsSchema()
	params["category"] = "text"
	params["threshold_pct"] = "numeric"
	return sql, params, nil
}

func baselineAggregate(b domain.Baseline) string {
	switch b {
	case domain.BaselineMedian:
		return "MEDIAN"
	case domain.BaselineAvg, domain.BaselineLastN, domain.BaselineSameMerchantN:
		return "AVG"
	default:
		return "AVG"
	}
}
