package rulecompiler

import (
	"regexp"
	"strings"

	"github.com/go-faster/errors"
)

// allowedFunctions whitelists the functions a compiled rule's SQL may
// call. jsonb_build_object and COALESCE are included because every
// template's detail/observed/baseline columns rely on them, not
// because a user's sentence can name them directly.
var allowedFunctions = map[string]bool{
	"sum":                true,
	"avg":                true,
	"median":             true,
	"count":              true,
	"coalesce":           true,
	"jsonb_build_object": true,
}

var disallowedKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create", "truncate",
	"grant", "revoke", "exec", "execute", "call", "merge", "vacuum",
	"copy", "into",
}

var functionCallPattern = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\s*\(`)
var boundParamPattern = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)
var identifierPattern = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\.([a-z_][a-z0-9_]*)\b`)

// GrammarValidator performs the static checks a compiled rule's SQL
// must pass before it is ever executed: SELECT-only, single-statement,
// no comments or write/DDL keywords, FROM transactions with joins only
// to users and credit_cards, whitelisted functions, a
// user_id = :user_id filter, an occurred_at reference, and column
// references via the t/u/transactions/users qualifiers restricted to
// the schema's known columns. Literal values are not rejected, and
// references through other qualifiers are not checked.
type GrammarValidator struct {
	schema ColumnSchema
}

// NewGrammarValidator builds a GrammarValidator against schema. Pass
// DefaultSchema for the production column set.
func NewGrammarValidator(schema ColumnSchema) *GrammarValidator {
	return &GrammarValidator{schema: schema}
}

// Validate returns an error describing the first grammar violation
// found in sqlText, or nil if sqlText is safe to execute.
func (v *GrammarValidator) Validate(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return errors.Errorf("empty SQL")
	}

	if strings.Contains(trimmed, ";") {
		return errors.Errorf("SQL must be a single statement with no trailing semicolon")
	}

	if strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return errors.Errorf("SQL must not contain comments")
	}

	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(strings.TrimSpace(lower), "select") {
		return errors.Errorf("SQL must be a single SELECT statement")
	}

	for _, kw := range disallowedKeywords {
		if containsWord(lower, kw) {
			return errors.Errorf("SQL must not contain keyword %q", kw)
		}
	}

	if !containsWord(lower, "from") {
		return errors.Errorf("SQL must reference a FROM clause")
	}
	if !strings.Contains(lower, "from transactions") {
		return errors.Errorf("SQL's top-level FROM must be transactions")
	}

	for _, join := range regexp.MustCompile(`(?i)join\s+([a-z_][a-z0-9_]*)`).FindAllStringSubmatch(lower, -1) {
		table := join[1]
		if table != "users" && table != "credit_cards" {
			return errors.Errorf("SQL must not join table %q", table)
		}
	}

	for _, call := range functionCallPattern.FindAllStringSubmatch(lower, -1) {
		name := call[1]
		if name == "select" || name == "from" || name == "where" || name == "and" || name == "or" {
			continue
		}
		if !allowedFunctions[name] {
			return errors.Errorf("SQL must not call function %q", name)
		}
	}

	if !strings.Contains(lower, "user_id = :user_id") {
		return errors.Errorf("SQL's WHERE clause must filter on user_id = :user_id")
	}
	if !strings.Contains(lower, "occurred_at") {
		return errors.Errorf("SQL's WHERE clause must bound occurred_at to a window")
	}

	if err := v.validateIdentifiers(lower); err != nil {
		return errors.Wrap(err, "invalid column reference")
	}

	return nil
}

// validateIdentifiers checks every table.column reference against the
// schema this validator was built with.
func (v *GrammarValidator) validateIdentifiers(lower string) error {
	aliasToTable := map[string]string{
		"t":            "transactions",
		"u":            "users",
		"transactions": "transactions",
		"users":        "users",
	}

	for _, match := range identifierPattern.FindAllStringSubmatch(lower, -1) {
		alias, column := match[1], match[2]
		table, ok := aliasToTable[alias]
		if !ok {
			continue
		}
		columns, ok := v.schema[table]
		if !ok {
			return errors.Errorf("unknown table %q", table)
		}
		if !containsString(columns, column) {
			return errors.Errorf("unknown column %q on table %q", column, table)
		}
	}
	return nil
}

func containsWord(s, word string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(s)
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

// boundParamNames returns every :name placeholder referenced in
// sqlText, deduplicated.
func boundParamNames(sqlText string) []string {
	seen := map[string]bool{}
	var names []string
	for _, match := range boundParamPattern.FindAllStringSubmatch(sqlText, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
