package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/pkg/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (PaymentRepository, sqlmock.Sqlmock) {
	repo, mock, _ := setupTxRepo(t)
	return repo, mock
}

func setupTxRepo(t *testing.T) (PaymentRepository, sqlmock.Sqlmock, database.TxManager) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewPaymentRepository(db), mock, database.NewTxManager(db)
}

func TestPaymentRepository_GetByGatewayOrderIDForUpdate(t *testing.T) {
	query := regexp.QuoteMeta(`SELECT * FROM "payments" WHERE gateway_order_id = $1`)

	t.Run("Found", func(t *testing.T) {
		repo, mock := setupRepo(t)
		mock.ExpectQuery(query + ".*FOR UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "method", "status", "amount", "gateway_order_id"}).
				AddRow("p1", "o1", "online", "pending", "345.00", "gw_1"))

		p, err := repo.GetByGatewayOrderIDForUpdate(context.Background(), "gw_1")
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, model.StatusPending, p.Status)
		require.NotNil(t, p.GatewayOrderID)
		assert.Equal(t, "gw_1", *p.GatewayOrderID)
		assert.Equal(t, "345", p.Amount.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		repo, mock := setupRepo(t)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.GetByGatewayOrderIDForUpdate(context.Background(), "missing")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestPaymentRepository_FindOpenByOrder(t *testing.T) {
	repo, mock := setupRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payments" WHERE order_id = $1 AND method = $2 AND status IN ($3,$4)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "method", "status"}).
			AddRow("p1", "o1", "online", "processing"))

	p, err := repo.FindOpenByOrder(context.Background(), "o1", model.MethodOnline)
	require.NoError(t, err)
	assert.True(t, p.IsOpen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_HasProcessedEvent(t *testing.T) {
	repo, mock := setupRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "processed_events" WHERE event_id = $1`)).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	seen, err := repo.HasProcessedEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_Create_DuplicateGatewayOrder(t *testing.T) {
	repo, mock, txm := setupTxRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT sp\w+`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "payments"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_payments_gateway_order_id"})
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT sp\w+`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	gw := "gw_1"
	payment := &model.Payment{OrderID: "o1", Method: model.MethodOnline, Currency: "USD", GatewayOrderID: &gw}
	err := txm.RunInTx(context.Background(), func(ctx context.Context) error {
		return repo.Create(ctx, payment)
	})

	assert.ErrorIs(t, err, ErrDuplicateGatewayOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_RecordEventDuplicate(t *testing.T) {
	repo, mock := setupRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_events"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "processed_events_pkey"})
	mock.ExpectRollback()

	err := repo.RecordEvent(context.Background(), &model.ProcessedEvent{EventID: "evt_1", PaymentID: "p1", EventType: "payment.captured"})

	var dup *apperr.DuplicateEventError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "evt_1", dup.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationQuery_ListDiscrepancies(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	q := NewReconciliationQuery(sqlx.NewDb(sqlDB, "sqlmock"))

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE p.needs_review = TRUE`)).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "order_id", "order_number", "order_status", "payment_status",
			"method", "amount", "gateway_order_id", "review_reason", "updated_at",
		}).AddRow("p1", "o1", "20240501-ABCDEF12", "cancelled", "completed",
			"online", "345.00", "gw_1", "payment completed after order cancelled", updated))

	rows, err := q.ListDiscrepancies(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cancelled", rows[0].OrderStatus)
	assert.Equal(t, "345", rows[0].Amount.String())
	assert.Equal(t, updated, rows[0].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
