package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

// UserRepository reads and maintains account holder records,
// including the last-known-location state the rule evaluator (C4)
// updates after every transaction that carries coordinates.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository wires a repository against an open *sql.DB.
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// GetUser returns the user with id, or a 404 RFC7807Problem if no such
// row exists.
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	const query = `
		SELECT id, email, home_lat, home_lon, credit_limit, current_balance,
		       location_consent, last_lat, last_lon, last_seen_at, timezone, created_at
		FROM users WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, userID)

	var (
		u                        domain.User
		homeLat, homeLon         sql.NullFloat64
		lastLat, lastLon         sql.NullFloat64
		lastSeenAt               sql.NullTime
		creditLimit, balance     string
	)

	err := row.Scan(&u.ID, &u.Email, &homeLat, &homeLon, &creditLimit, &balance,
		&u.LocationConsent, &lastLat, &lastLon, &lastSeenAt, &u.Timezone, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("user", userID)
		}
		r.logger.Error("failed to retrieve user", zap.Error(err), zap.String("id", userID))
		return nil, errorsFailedTo("retrieve user", err)
	}

	if homeLat.Valid && homeLon.Valid {
		u.HomeCoords = &domain.Coordinates{Lat: homeLat.Float64, Lon: homeLon.Float64}
	}
	if lastLat.Valid && lastLon.Valid {
		u.LastKnownCoords = &domain.Coordinates{Lat: lastLat.Float64, Lon: lastLon.Float64}
	}
	if lastSeenAt.Valid {
		u.LastKnownAt = lastSeenAt.Time
	}

	limit, err := decimal.NewFromString(creditLimit)
	if err != nil {
		return nil, errorsFailedTo("parse credit limit", err)
	}
	u.CreditLimit = limit

	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, errorsFailedTo("parse current balance", err)
	}
	u.CurrentBalance = bal

	return &u, nil
}

// UpdateLastKnownLocation records the coordinates of a user's most
// recent transaction and when it occurred, the signal C5's
// impossible-travel rule compares against on the next one.
func (r *UserRepository) UpdateLastKnownLocation(ctx context.Context, userID string, coords domain.Coordinates, observedAt time.Time) error {
	const query = `UPDATE users SET last_lat = $1, last_lon = $2, last_seen_at = $3 WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, coords.Lat, coords.Lon, observedAt, userID)
	if err != nil {
		r.logger.Error("failed to update last known location", zap.Error(err), zap.String("id", userID))
		return errorsFailedTo("update last known location", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errorsFailedTo("update last known location", err)
	}
	if rows == 0 {
		return validation.NewNotFoundProblem("user", userID)
	}
	return nil
}

// GetCreditCard returns the card with id, or a 404 RFC7807Problem if
// no such row exists.
func (r *UserRepository) GetCreditCard(ctx context.Context, cardID string) (*domain.CreditCard, error) {
	const query = `SELECT id, user_id, last4, network, issuer, active FROM credit_cards WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, cardID)

	var c domain.CreditCard
	if err := row.Scan(&c.ID, &c.UserID, &c.Last4, &c.Network, &c.Issuer, &c.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("credit_card", cardID)
		}
		r.logger.Error("failed to retrieve credit card", zap.Error(err), zap.String("id", cardID))
		return nil, errorsFailedTo("retrieve credit card", err)
	}
	return &c, nil
}
