package evaluator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/spendmonitor/alertengine/pkg/behavior"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

// IsCheap reports whether kind can be evaluated in-process without a
// round trip to the data store's SQL runner: THRESHOLD,
// MERCHANT_PATTERN, and LOCATION with a static (non-"home"-relative)
// geo_scope.
func IsCheap(rule *domain.AlertRule, geoScope string) bool {
	switch rule.Kind {
	case domain.RuleKindThreshold, domain.RuleKindMerchantPattern:
		return true
	case domain.RuleKindLocation:
		return !strings.HasPrefix(geoScope, "home:")
	default:
		return false
	}
}

// cheapEnv declares the CEL variables every cheap-rule expression may
// reference. One shared environment compiles every cheap program;
// per-rule values are bound at Eval time, not baked into the
// expression, so the set of compiled programs stays O(#RuleKind) not
// O(#rules).
var cheapEnv, cheapEnvErr = cel.NewEnv(
	ext.Strings(),
	cel.Variable("amount", cel.DoubleType),
	cel.Variable("threshold", cel.DoubleType),
	cel.Variable("merchant", cel.StringType),
	cel.Variable("merchant_pattern", cel.StringType),
	cel.Variable("category", cel.StringType),
	cel.Variable("category_pattern", cel.StringType),
	cel.Variable("has_lat", cel.BoolType),
	cel.Variable("has_home_lat", cel.BoolType),
)

// cheapExpressions maps a RuleKind + operator to the CEL source that
// evaluates it. THRESHOLD is keyed by operator since the comparison
// itself varies; the others have one fixed predicate.
var cheapExpressions = map[string]string{
	"THRESHOLD:>":  "amount > threshold",
	"THRESHOLD:<":  "amount < threshold",
	"THRESHOLD:>=": "amount >= threshold",
	"THRESHOLD:<=": "amount <= threshold",
	"THRESHOLD:==": "amount == threshold",
	"MERCHANT_PATTERN": "(merchant_pattern != '' && merchant.contains(merchant_pattern)) || " +
		"(category_pattern != '' && category == category_pattern)",
	"LOCATION": "has_lat",
}

type compiledProgram struct {
	program cel.Program
}

var cheapProgramCache sync.Map // map[string]*compiledProgram

func compileCheapExpression(key string) (*compiledProgram, error) {
	if cheapEnvErr != nil {
		return nil, fmt.Errorf("cheap-rule CEL environment failed to initialise: %w", cheapEnvErr)
	}
	if cached, ok := cheapProgramCache.Load(key); ok {
		return cached.(*compiledProgram), nil
	}

	expr, ok := cheapExpressions[key]
	if !ok {
		return nil, fmt.Errorf("no cheap-rule expression registered for %q", key)
	}

	ast, iss := cheapEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile cheap-rule expression %q: %w", key, iss.Err())
	}
	prg, err := cheapEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build cheap-rule program %q: %w", key, err)
	}

	compiled := &compiledProgram{program: prg}
	cheapProgramCache.Store(key, compiled)
	return compiled, nil
}

// EvaluateCheap evaluates rule against txn and user in-process, never
// calling the data store's SQL runner. Refunded transactions never
// trigger THRESHOLD rules, matching the evaluator's refund-exclusion
// policy. Rule parameters are read from rule.TriggerSchema, the
// concrete RuleIntent field values the compiler recorded alongside
// the rule's SQL.
func EvaluateCheap(rule *domain.AlertRule, txn *domain.Transaction, user *domain.User) (triggered bool, observed *float64, risk behavior.LocationRisk, err error) {
	if txn.Status == domain.TransactionRefunded && rule.Kind == domain.RuleKindThreshold {
		return false, nil, behavior.LocationRiskNone, nil
	}

	amount, _ := txn.Amount.Float64()
	operator, threshold, merchant, category := ruleParams(rule)

	var key string
	switch rule.Kind {
	case domain.RuleKindThreshold:
		key = "THRESHOLD:" + string(operator)
	case domain.RuleKindMerchantPattern:
		key = "MERCHANT_PATTERN"
	case domain.RuleKindLocation:
		key = "LOCATION"
	default:
		return false, nil, behavior.LocationRiskNone, fmt.Errorf("rule kind %q is not a cheap rule", rule.Kind)
	}

	compiled, err := compileCheapExpression(key)
	if err != nil {
		return false, nil, behavior.LocationRiskNone, err
	}

	vars := map[string]interface{}{
		"amount":           amount,
		"threshold":        threshold,
		"merchant":         strings.ToLower(txn.MerchantName),
		"merchant_pattern": strings.ToLower(merchant),
		"category":         strings.ToLower(txn.MerchantCategory),
		"category_pattern": strings.ToLower(category),
		"has_lat":          txn.Coords != nil,
		"has_home_lat":     user != nil && user.HomeCoords != nil,
	}

	out, _, err := compiled.program.Eval(vars)
	if err != nil {
		return false, nil, behavior.LocationRiskNone, fmt.Errorf("failed to evaluate cheap rule %q: %w", rule.ID, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, nil, behavior.LocationRiskNone, fmt.Errorf("cheap rule %q did not evaluate to a boolean", rule.ID)
	}

	locationRisk := behavior.LocationRiskNone
	if rule.Kind == domain.RuleKindLocation && result {
		analyzer := behavior.NewAnalyzer()
		locationRisk = analyzer.LocationRisk(user, txn, user.LastKnownAt)
		result = locationRisk != behavior.LocationRiskNone
	}

	return result, &amount, locationRisk, nil
}

// ruleParams reads the concrete operator/amount/merchant/category
// values the compiler recorded in rule.TriggerSchema when it
// synthesized rule's SQL.
func ruleParams(rule *domain.AlertRule) (operator domain.Operator, amount float64, merchant, category string) {
	if rule.TriggerSchema == nil {
		return "", 0, "", ""
	}
	if v, ok := rule.TriggerSchema["operator"].(string); ok {
		operator = domain.Operator(v)
	}
	if v, ok := rule.TriggerSchema["amount"].(float64); ok {
		amount = v
	}
	if v, ok := rule.TriggerSchema["merchant"].(string); ok {
		merchant = v
	}
	if v, ok := rule.TriggerSchema["category"].(string); ok {
		category = v
	}
	return operator, amount, merchant, category
}
