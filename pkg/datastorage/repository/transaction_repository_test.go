package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/pkg/datastorage/validation"
	"github.com/spendmonitor/alertengine/pkg/domain"
)

var _ = Describe("TransactionRepository", func() {
	var (
		repo   *TransactionRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		logger *zap.Logger
		txn    *domain.Transaction
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())

		logger = zap.NewNop()
		repo = NewTransactionRepository(mockDB, logger)
		ctx = context.Background()
		now = time.Now()

		txn = &domain.Transaction{
			ID:               "txn-1",
			UserID:           "user-1",
			CardID:           "card-1",
			Amount:           decimal.NewFromFloat(547.00),
			Currency:         "USD",
			MerchantName:     "Example Store",
			MerchantCategory: "retail",
			OccurredAt:       now,
			Status:           domain.TransactionPending,
		}
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("InsertTransaction", func() {
		It("inserts a new transaction", func() {
			mock.ExpectExec(`INSERT INTO transactions`).
				WithArgs(txn.ID, txn.UserID, txn.CardID, txn.Amount.String(), txn.Currency,
					txn.MerchantName, txn.MerchantCategory, txn.OccurredAt,
					sql.NullFloat64{}, sql.NullFloat64{}, string(txn.Status)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.InsertTransaction(ctx, txn)

			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("treats a replayed ID as already-recorded, not an error", func() {
			mock.ExpectExec(`INSERT INTO transactions`).
				WillReturnError(&pgconn.PgError{Code: "23505"})

			err := repo.InsertTransaction(ctx, txn)

			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("wraps generic database errors", func() {
			mock.ExpectExec(`INSERT INTO transactions`).
				WillReturnError(sql.ErrConnDone)

			err := repo.InsertTransaction(ctx, txn)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to insert transaction"))
		})
	})

	Describe("GetTransaction", func() {
		It("retrieves and parses a transaction's amount and coordinates", func() {
			mock.ExpectQuery(`SELECT (.+) FROM transactions WHERE id`).
				WithArgs("txn-1").
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "user_id", "card_id", "amount", "currency", "merchant_name",
					"merchant_category", "occurred_at", "lat", "lon", "status",
				}).AddRow(
					"txn-1", "user-1", "card-1", "547", "USD", "Example Store",
					"retail", now, 40.7128, -74.0060, "PENDING",
				))

			result, err := repo.GetTransaction(ctx, "txn-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Amount.Equal(decimal.NewFromInt(547))).To(BeTrue())
			Expect(result.Coords).ToNot(BeNil())
			Expect(result.Coords.Lat).To(Equal(40.7128))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns a 404 problem when no row exists", func() {
			mock.ExpectQuery(`SELECT (.+) FROM transactions WHERE id`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			result, err := repo.GetTransaction(ctx, "missing")

			Expect(result).To(BeNil())
			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(404))
		})
	})

	Describe("AdvanceTransactionStatus", func() {
		It("updates the status", func() {
			mock.ExpectExec(`UPDATE transactions SET status`).
				WithArgs(string(domain.TransactionSettled), "txn-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := repo.AdvanceTransactionStatus(ctx, "txn-1", domain.TransactionSettled)

			Expect(err).ToNot(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("returns a 404 problem when no row matches", func() {
			mock.ExpectExec(`UPDATE transactions SET status`).
				WithArgs(string(domain.TransactionDeclined), "missing").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.AdvanceTransactionStatus(ctx, "missing", domain.TransactionDeclined)

			problem, ok := err.(*validation.RFC7807Problem)
			Expect(ok).To(BeTrue())
			Expect(problem.Status).To(Equal(404))
		})
	})
})
