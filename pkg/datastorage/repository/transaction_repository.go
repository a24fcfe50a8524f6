package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

// TransactionRepository persists the append-only transaction ledger
// C7 ingests and C4 evaluates against.
type TransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransactionRepository wires a repository against an open *sql.DB.
func NewTransactionRepository(db *sql.DB, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

// InsertTransaction persists txn. A duplicate ID (a replayed ingest
// request) is treated as already-recorded, not an error, matching the
// idempotency the notification uniqueness constraint gives C4.
func (r *TransactionRepository) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	var lat, lon sql.NullFloat64
	if txn.Coords != nil {
		lat = sql.NullFloat64{Float64: txn.Coords.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: txn.Coords.Lon, Valid: true}
	}

	const query = `
		INSERT INTO transactions
			(id, user_id, card_id, amount, currency, merchant_name, merchant_category,
			 occurred_at, lat, lon, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.UserID, txn.CardID, txn.Amount.String(), txn.Currency,
		txn.MerchantName, txn.MerchantCategory, txn.OccurredAt, lat, lon, string(txn.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil
		}
		r.logger.Error("failed to insert transaction", zap.Error(err), zap.String("id", txn.ID))
		return errorsFailedTo("insert transaction", err)
	}
	return nil
}

// GetTransaction returns the transaction with id, or a 404
// RFC7807Problem if no such row exists.
func (r *TransactionRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	const query = `
		SELECT id, user_id, card_id, amount, currency, merchant_name, merchant_category,
		       occurred_at, lat, lon, status
		FROM transactions WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	var (
		txn           domain.Transaction
		amount        string
		status        string
		lat, lon      sql.NullFloat64
	)

	err := row.Scan(&txn.ID, &txn.UserID, &txn.CardID, &amount, &txn.Currency,
		&txn.MerchantName, &txn.MerchantCategory, &txn.OccurredAt, &lat, &lon, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("transaction", id)
		}
		r.logger.Error("failed to retrieve transaction", zap.Error(err), zap.String("id", id))
		return nil, errorsFailedTo("retrieve transaction", err)
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errorsFailedTo("parse transaction amount", err)
	}
	txn.Amount = parsedAmount
	txn.Status = domain.TransactionStatus(status)
	if lat.Valid && lon.Valid {
		txn.Coords = &domain.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}

	return &txn, nil
}

// AdvanceTransactionStatus moves txn id to a new lifecycle status
// (§3: PENDING -> APPROVED|DECLINED -> SETTLED|REFUNDED).
func (r *TransactionRepository) AdvanceTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	const query = `UPDATE transactions SET status = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		r.logger.Error("failed to advance transaction status", zap.Error(err), zap.String("id", id))
		return errorsFailedTo("advance transaction status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errorsFailedTo("advance transaction status", err)
	}
	if rows == 0 {
		return validation.NewNotFoundProblem("transaction", id)
	}
	return nil
}
