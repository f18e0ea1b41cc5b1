package repository

import (
	"context"
	"regexp"
	"testing"

	"checkout_core/internal/domain/order/model"
	paymentModel "checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/pkg/database"
	baseModel "checkout_core/pkg/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (OrderRepository, sqlmock.Sqlmock) {
	repo, mock, _ := setupTxRepo(t)
	return repo, mock
}

func setupTxRepo(t *testing.T) (OrderRepository, sqlmock.Sqlmock, database.TxManager) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewOrderRepository(db), mock, database.NewTxManager(db)
}

func TestOrderRepository_GetByOrderNumber_NotFound(t *testing.T) {
	repo, mock := setupRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE order_number = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByOrderNumber(context.Background(), "20240101-ABCDEFGH")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_UpdatePaymentStatus(t *testing.T) {
	update := regexp.QuoteMeta(`UPDATE "orders" SET "payment_status"=$1,"updated_at"=$2 WHERE id = $3`)

	t.Run("Success", func(t *testing.T) {
		repo, mock := setupRepo(t)
		mock.ExpectExec(update).
			WithArgs(paymentModel.StatusCompleted, sqlmock.AnyArg(), "o1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdatePaymentStatus(context.Background(), "o1", paymentModel.StatusCompleted))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		repo, mock := setupRepo(t)
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdatePaymentStatus(context.Background(), "o1", paymentModel.StatusFailed)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	repo, mock := setupRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET "status"=$1,"updated_at"=$2 WHERE id = $3`)).
		WithArgs(model.StatusConfirmed, sqlmock.AnyArg(), "o1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "order_status_history"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	order := &model.Order{BaseModel: baseModel.BaseModel{ID: "o1"}, Status: model.StatusConfirmed}
	history := &model.StatusHistory{FromStatus: model.StatusPending, ToStatus: model.StatusConfirmed}

	require.NoError(t, repo.UpdateStatus(context.Background(), order, history))
	assert.Equal(t, "o1", history.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_DuplicateOrderNumber(t *testing.T) {
	repo, mock, txm := setupTxRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT sp\w+`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_orders_order_number"})
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT sp\w+`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	order := &model.Order{UserID: "u1", OrderNumber: "20240101-ABCDEF12", Currency: "USD"}
	err := txm.RunInTx(context.Background(), func(ctx context.Context) error {
		return repo.Create(ctx, order)
	})

	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_OtherUniqueViolation(t *testing.T) {
	repo, mock := setupRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &model.Order{UserID: "u1", OrderNumber: "20240101-ABCDEF12", Currency: "USD"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateOrderNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}
