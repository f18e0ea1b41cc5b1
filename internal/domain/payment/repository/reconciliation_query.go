package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Discrepancy 需要人工核对的支付：支付已完成但订单已取消或退款
type Discrepancy struct {
	PaymentID      string          `db:"payment_id" json:"paymentId"`
	OrderID        string          `db:"order_id" json:"orderId"`
	OrderNumber    string          `db:"order_number" json:"orderNumber"`
	OrderStatus    string          `db:"order_status" json:"orderStatus"`
	PaymentStatus  string          `db:"payment_status" json:"paymentStatus"`
	Method         string          `db:"method" json:"method"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	GatewayOrderID *string         `db:"gateway_order_id" json:"gatewayOrderId,omitempty"`
	ReviewReason   string          `db:"review_reason" json:"reviewReason"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// ReconciliationQuery 对账报表查询，只读
type ReconciliationQuery interface {
	ListDiscrepancies(ctx context.Context, limit int) ([]Discrepancy, error)
}

type reconciliationQuery struct {
	db *sqlx.DB
}

func NewReconciliationQuery(db *sqlx.DB) ReconciliationQuery {
	return &reconciliationQuery{db: db}
}

const discrepancySQL = `
SELECT p.id AS payment_id, p.order_id, o.order_number, o.status AS order_status,
       p.status AS payment_status, p.method, p.amount, p.gateway_order_id,
       COALESCE(p.review_reason, '') AS review_reason, p.updated_at
FROM payments p
JOIN orders o ON o.id = p.order_id
WHERE p.needs_review = TRUE
ORDER BY p.updated_at DESC
LIMIT $1`

func (q *reconciliationQuery) ListDiscrepancies(ctx context.Context, limit int) ([]Discrepancy, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []Discrepancy{}
	if err := q.db.SelectContext(ctx, &out, discrepancySQL, limit); err != nil {
		return nil, err
	}
	return out, nil
}
