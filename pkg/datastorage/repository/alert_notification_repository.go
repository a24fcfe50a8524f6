// Package repository implements the data-store contract (C1): typed
// CRUD over the core entities, backed by pgx/v5 and validated before
// any row crosses the wire.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/pkg/datastorage/repository/sqlutil"
	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

const pgUniqueViolation = "23505"

// AlertNotificationRepository persists AlertNotification rows, the
// idempotency anchor for C4: the unique index on
// (rule_id, transaction_id, channel) is what makes re-evaluation safe.
type AlertNotificationRepository struct {
	db        *sql.DB
	sqlxDB    *sqlx.DB
	logger    *zap.Logger
	validator *validation.AlertNotificationValidator
}

// NewAlertNotificationRepository wires a repository against an open
// *sql.DB and a zap logger scoped to the data-store layer. ListForRule
// is the one query here shaped for sqlx's StructScan rather than a
// hand-rolled Scan call, since its result is a flat, read-only history
// row with no nested JSON columns to unmarshal afterward.
func NewAlertNotificationRepository(db *sql.DB, logger *zap.Logger) *AlertNotificationRepository {
	return &AlertNotificationRepository{
		db:        db,
		sqlxDB:    sqlx.NewDb(db, "pgx"),
		logger:    logger,
		validator: validation.NewAlertNotificationValidator(),
	}
}

// Insert validates and persists a new notification, returning it with
// its generated ID. A duplicate (rule_id, transaction_id, channel)
// triple surfaces as a 409 RFC7807Problem so C4 can treat it as an
// already-delivered no-op rather than an error.
func (r *AlertNotificationRepository) Insert(ctx context.Context, n *domain.AlertNotification) (*domain.AlertNotification, error) {
	if err := r.validator.Validate(n); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO alert_notifications
			(rule_id, user_id, transaction_id, channel, severity, title, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	row := r.db.QueryRowContext(ctx, query,
		n.RuleID,
		n.UserID,
		sqlutil.ToNullStringValue(n.TransactionID),
		string(n.Channel),
		string(n.Severity),
		n.Title,
		n.Body,
		string(n.Status),
		n.CreatedAt,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			r.logger.Warn("duplicate notification suppressed",
				zap.String("rule_id", n.RuleID), zap.String("transaction_id", n.TransactionID), zap.String("channel", string(n.Channel)))
			return nil, validation.NewConflictProblem("alert_notification", "rule_id,transaction_id,channel", n.RuleID+"/"+n.TransactionID+"/"+string(n.Channel))
		}
		r.logger.Error("failed to insert notification", zap.Error(err))
		return nil, errorsFailedTo("insert notification", err)
	}

	result := *n
	result.ID = id
	return &result, nil
}

// GetByID returns the notification with id, or a 404 RFC7807Problem
// if no such row exists.
func (r *AlertNotificationRepository) GetByID(ctx context.Context, id string) (*domain.AlertNotification, error) {
	const query = `
		SELECT id, rule_id, user_id, transaction_id, channel, severity, title, body, status,
		       created_at, delivered_at, read_at, error
		FROM alert_notifications WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	var (
		n             domain.AlertNotification
		transactionID sql.NullString
		channel       string
		severity      string
		status        string
		deliveredAt   sql.NullTime
		readAt        sql.NullTime
		errMsg        sql.NullString
	)

	err := row.Scan(&n.ID, &n.RuleID, &n.UserID, &transactionID, &channel, &severity, &n.Title, &n.Body,
		&status, &n.CreatedAt, &deliveredAt, &readAt, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("alert_notification", id)
		}
		r.logger.Error("failed to retrieve notification", zap.Error(err), zap.String("id", id))
		return nil, errorsFailedTo("retrieve notification", err)
	}

	n.Channel = domain.Channel(channel)
	n.Severity = domain.Severity(severity)
	n.Status = domain.NotificationStatus(status)
	if transactionID.Valid {
		n.TransactionID = transactionID.String
	}
	n.DeliveredAt = sqlutil.FromNullTime(deliveredAt)
	n.ReadAt = sqlutil.FromNullTime(readAt)
	if errMsg.Valid {
		n.Error = errMsg.String
	}

	return &n, nil
}

// AdvanceStatus moves a notification to a new terminal or
// non-terminal status (§3 invariant 4: QUEUED -> SENT|FAILED,
// SENT -> READ). Callers are responsible for enforcing the allowed
// transition; this method only persists it, stamping delivered_at
// when the new status is SENT.
func (r *AlertNotificationRepository) AdvanceStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	query := `UPDATE alert_notifications SET status = $1 WHERE id = $2`
	if status == domain.NotificationSent {
		query = `UPDATE alert_notifications SET status = $1, delivered_at = now() WHERE id = $2`
	}

	result, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		r.logger.Error("failed to advance notification status", zap.Error(err), zap.String("id", id))
		return errorsFailedTo("advance notification status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorsFailedTo("advance notification status", err)
	}
	if rows == 0 {
		return validation.NewNotFoundProblem("alert_notification", id)
	}
	return nil
}

// notificationHistoryRow is ListForRule's flat column shape, scanned
// directly via sqlx's StructScan.
type notificationHistoryRow struct {
	ID            string         `db:"id"`
	TransactionID sql.NullString `db:"transaction_id"`
	Channel       string         `db:"channel"`
	Severity      string         `db:"severity"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	DeliveredAt   sql.NullTime   `db:"delivered_at"`
	Error         sql.NullString `db:"error"`
}

// ListForRule returns ruleID's notification history, most recent
// first, for the rule-history endpoint's audit trail (§6 GET
// /rules/{id}/history).
func (r *AlertNotificationRepository) ListForRule(ctx context.Context, ruleID string, limit int) ([]*domain.AlertNotification, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, transaction_id, channel, severity, status, created_at, delivered_at, error
		FROM alert_notifications
		WHERE rule_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var rows []notificationHistoryRow
	if err := r.sqlxDB.SelectContext(ctx, &rows, query, ruleID, limit); err != nil {
		r.logger.Error("failed to list notification history", zap.Error(err), zap.String("rule_id", ruleID))
		return nil, errorsFailedTo("list notification history", err)
	}

	history := make([]*domain.AlertNotification, 0, len(rows))
	for _, row := range rows {
		n := &domain.AlertNotification{
			ID:        row.ID,
			RuleID:    ruleID,
			Channel:   domain.Channel(row.Channel),
			Severity:  domain.Severity(row.Severity),
			Status:    domain.NotificationStatus(row.Status),
			CreatedAt: row.CreatedAt,
		}
		if row.TransactionID.Valid {
			n.TransactionID = row.TransactionID.String
		}
		if row.DeliveredAt.Valid {
			deliveredAt := row.DeliveredAt.Time
			n.DeliveredAt = &deliveredAt
		}
		if row.Error.Valid {
			n.Error = row.Error.String
		}
		history = append(history, n)
	}
	return history, nil
}

// HealthCheck pings the underlying database connection.
func (r *AlertNotificationRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errorsFailedTo("health check failed", err)
	}
	return nil
}
