package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// SQLExecutor runs a compiled rule's synthesized SQL against one
// user's transaction history and extracts the single required row
// shape (triggered, observed, baseline, detail). It is the shared
// mechanism behind both the rule compiler's dry-run validation step
// and the evaluator's per-transaction SQL rule execution; each of
// those packages wraps it in its own narrow adapter so neither
// depends on this package's types directly.
type SQLExecutor struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLExecutor wires an executor against an open *sql.DB.
func NewSQLExecutor(db *sql.DB, logger *zap.Logger) *SQLExecutor {
	return &SQLExecutor{db: db, logger: logger}
}

// Run executes sqlText (already parameterized with named placeholders
// the synthesizer produced, e.g. ":threshold") against userID's
// transaction history, substituting params and a hard timeout, and
// scans the single required row.
func (e *SQLExecutor) Run(ctx context.Context, sqlText string, params map[string]interface{}, userID string) (triggered bool, observed, baseline *float64, detail map[string]interface{}, err error) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	query, args := bindNamedParams(sqlText, params, userID)

	row := e.db.QueryRowContext(runCtx, query, args...)

	var (
		obs        sql.NullFloat64
		bas        sql.NullFloat64
		detailJSON sql.NullString
	)
	if err := row.Scan(&triggered, &obs, &bas, &detailJSON); err != nil {
		e.logger.Error("rule sql execution failed", zap.Error(err), zap.String("user_id", userID))
		return false, nil, nil, nil, errorsFailedTo("execute rule sql", err)
	}

	if obs.Valid {
		v := obs.Float64
		observed = &v
	}
	if bas.Valid {
		v := bas.Float64
		baseline = &v
	}

	detail := map[string]interface{}{"user_id": userID}
	if detailJSON.Valid && detailJSON.String != "" {
		// Every synthesized rule query's jsonb_build_object('detail', ...)
		// column is a flat object; gjson.Parse().ForEach avoids an
		// intermediate generic unmarshal just to copy it into detail.
		gjson.Parse(detailJSON.String).ForEach(func(key, value gjson.Result) bool {
			detail[key.String()] = value.Value()
			return true
		})
	}

	return triggered, observed, baseline, detail, nil
}

// bindNamedParams rewrites sqlText's ":name" placeholders into
// positional "$N" placeholders and returns the matching argument
// slice, with userID always bound last as the transaction-history
// scope every synthesized query filters on.
func bindNamedParams(sqlText string, params map[string]interface{}, userID string) (string, []interface{}) {
	query := sqlText
	args := make([]interface{}, 0, len(params)+1)
	n := 1
	for name, value := range params {
		query = strings.ReplaceAll(query, ":"+name, fmt.Sprintf("$%d", n))
		args = append(args, value)
		n++
	}
	query = strings.ReplaceAll(query, ":user_id", fmt.Sprintf("$%d", n))
	args = append(args, userID)
	return query, args
}
