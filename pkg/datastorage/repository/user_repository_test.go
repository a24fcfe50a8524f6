package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

var _ = Describe("UserRepository", func() {
	var (
		repo   *UserRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		logger *zap.Logger
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())

		logger = zap.NewNop()
		repo = NewUserRepository(mockDB, logger)
		ctx = context.Background()
		now = time.Now()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("GetUser", func() {
		It("parses credit limit, balance, and both coordinate pairs", func() {
			mock.ExpectQuery(`SELECT (.+) FROM users WHERE id`).
				WithArgs("user-1").
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "email", "home_lat", "home_lon", "credit_limit", "current_balance",
					"location_consent", "last_lat", "last_lon", "last_seen_at", "timezone", "created_at",
				}).AddRow(
					"user-1", "alice@example.com", 40.7128, -74.0060, "5000", "1200.50",
					true, 40.71, -74.00, now, "America/New_York", now,
				))

			u, err := repo.GetUser(ctx, "user-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(u.CreditLimit.String()).To(Equal("5000"))
			Expect(u.CurrentBalance.String()).To(Equal("1200.5"))
			Expect(u.HomeCoords).ToNot(BeNil())
			Expect(u.LastKnownCoords).ToNot(BeNil())
			Expect(u.LastKnownAt).To(BeTemporally("==", now))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("leaves coordinates nil when both columns are null", func() {
			mock.ExpectQuery(`SELECT (.+) FROM users WHERE id`).
				WithArgs("user-2").
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "email", "home_lat", "home_lon", "credit_limit", "current_balance",
					"location_consent", "last_lat", "last_lon", "last_seen_at", "timezone", "created_at",
				}).AddRow(
					"user-2", "bob@example.com", nil, nil, "3000", "0",
					false, nil, nil, nil, "UTC", now,
				))

			u, err := repo.GetUser(ctx, "user-2")

			Expect(err).ToNot(HaveOccurred())
			Expect(u.HomeCoords).To(BeNil())
			Expect(u.LastKnownCoords).To(BeNil())
			Expect(u.LastKnownAt).To(BeZero())
		})

		It("returns a 404 problem when no row exists", func() {
			mock.ExpectQuery(`SELECT (.+) FROM users WHERE id`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			u, err := repo.GetUser(ctx, "missing")

			Expect(u).To(BeNil())
			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(404))
		})
	})

	Describe("UpdateLastKnownLocation", func() {
		It("updates the coordinates", func() {
			mock.ExpectExec(`UPDATE users SET last_lat`).
				WithArgs(40.7128, -74.0060, now, "user-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.UpdateLastKnownLocation(ctx, "user-1", domain.Coordinates{Lat: 40.7128, Lon: -74.0060}, now)

			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns a 404 problem when no row matches", func() {
			mock.ExpectExec(`UPDATE users SET last_lat`).
				WithArgs(0.0, 0.0, now, "missing").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.UpdateLastKnownLocation(ctx, "missing", domain.Coordinates{}, now)

			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(404))
		})
	})

	Describe("GetCreditCard", func() {
		It("retrieves the card", func() {
			mock.ExpectQuery(`SELECT (.+) FROM credit_cards WHERE id`).
				WithArgs("card-1").
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "user_id", "last4", "network", "issuer", "active",
				}).AddRow("card-1", "user-1", "4242", "visa", "chase-bank", true))

			card, err := repo.GetCreditCard(ctx, "card-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(card.Last4).To(Equal("4242"))
			Expect(card.Active).To(BeTrue())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns a 404 problem when no row exists", func() {
			mock.ExpectQuery(`SELECT (.+) FROM credit_cards WHERE id`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			card, err := repo.GetCreditCard(ctx, "missing")

			Expect(card).To(BeNil())
			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(404))
		})
	})
})
