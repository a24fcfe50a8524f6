// Package rulecompiler turns a user's free-form sentence into a
// compiled, validated, deduplicated AlertRule. It drives the
// Parse -> Ground -> Synthesize -> Validate -> DedupCheck state
// machine; the LLM never writes SQL, it only fills RuleIntent slots
// that deterministic templates turn into parameterized queries.
package rulecompiler

import (
	"context"

	"github.com/spendmonitor/alertengine/pkg/domain"
)

// CompileOutcomeKind tags which terminal state a Compile call landed
// in.
type CompileOutcomeKind string

const (
	CompileValid       CompileOutcomeKind = "valid"
	CompileInvalid     CompileOutcomeKind = "invalid"
	CompileAmbiguous   CompileOutcomeKind = "ambiguous"
	CompileDuplicateOf CompileOutcomeKind = "duplicate_of"
)

// CompileResult is the outcome of compiling one sentence: exactly one
// of Rule, (Reason, Hints), Questions, or DuplicateRuleID is populated,
// selected by Kind.
type CompileResult struct {
	Kind CompileOutcomeKind

	Rule *domain.AlertRule // populated when Kind == CompileValid

	Reason string   // populated when Kind == CompileInvalid
	Hints  []string // populated when Kind == CompileInvalid

	Questions []string // populated when Kind == CompileAmbiguous

	DuplicateRuleID string // populated when Kind == CompileDuplicateOf
}

func invalid(reason string, hints ...string) *CompileResult {
	return &CompileResult{Kind: CompileInvalid, Reason: reason, Hints: hints}
}

func ambiguous(questions []string) *CompileResult {
	return &CompileResult{Kind: CompileAmbiguous, Questions: questions}
}

func duplicateOf(ruleID string) *CompileResult {
	return &CompileResult{Kind: CompileDuplicateOf, DuplicateRuleID: ruleID}
}

func valid(rule *domain.AlertRule) *CompileResult {
	return &CompileResult{Kind: CompileValid, Rule: rule}
}

// SQLRunner is C1's dynamic-validation hook: it executes a
// synthesized rule's SQL against the user's own transaction history
// with a hard timeout, asserting the single-row
// (triggered, observed, baseline, detail) shape.
type SQLRunner interface {
	RunRuleSQL(ctx context.Context, sqlText string, params map[string]interface{}, userID string) (*SQLRunResult, error)
}

// SQLRunResult is the single row a rule's compiled SQL must return.
type SQLRunResult struct {
	Triggered bool
	Observed  *float64
	Baseline  *float64
	Detail    map[string]interface{}
}

// UserLookup resolves a user's home-state/region for grounding
// geo_scope references like "outside my home state".
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// ColumnSchema describes one table's column names, for the grammar
// validator's "referenced columns exist" static check.
type ColumnSchema map[string][]string

// DefaultSchema is the data store's column metadata for the tables a
// compiled rule's SQL is allowed to reference.
var DefaultSchema = ColumnSchema{
	"transactions": {
		"id", "user_id", "card_id", "amount", "currency", "merchant_name",
		"merchant_category", "occurred_at", "lat", "lon", "status",
	},
	"users": {
		"id", "email", "home_lat", "home_lon", "credit_limit",
		"current_balance", "timezone",
	},
	"credit_cards": {
		"id", "user_id", "last4", "network", "issuer", "active",
	},
}
