package strategy

import (
	"context"

	orderModel "checkout_core/internal/domain/order/model"
	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/internal/pkg/config"
	"checkout_core/pkg/money"

	"github.com/shopspring/decimal"
)

// CODStrategy 货到付款：不调用外部网关，按小计收取手续费
type CODStrategy struct {
	percent decimal.Decimal
	min     decimal.Decimal
	max     decimal.Decimal
}

func NewCODStrategy(cfg config.CODConfig) *CODStrategy {
	return &CODStrategy{
		percent: decimal.NewFromFloat(cfg.SurchargePercent),
		min:     money.FromFloat(cfg.MinSurcharge),
		max:     money.FromFloat(cfg.MaxSurcharge),
	}
}

func (s *CODStrategy) Method() model.Method {
	return model.MethodCOD
}

// Surcharge 手续费 = 小计 × 百分比，限制在 [min, max]
func (s *CODStrategy) Surcharge(subtotal decimal.Decimal) decimal.Decimal {
	return money.Clamp(money.Percent(subtotal, s.percent), s.min, s.max)
}

func (s *CODStrategy) CreateIntent(_ context.Context, order *orderModel.Order, _ int) (*Intent, error) {
	surcharge := s.Surcharge(order.Subtotal)
	amount, err := money.ToMinorUnits(order.TotalAmount.Add(surcharge))
	if err != nil {
		return nil, apperr.Validation("totalAmount", err.Error())
	}
	return &Intent{
		AmountMinor: amount,
		Currency:    order.Currency,
		Status:      model.StatusPending,
		Surcharge:   surcharge,
	}, nil
}

func (s *CODStrategy) Verify(string, string, string) (bool, error) {
	return false, apperr.Validation("paymentMethod", "cash on delivery has no gateway signature")
}

func (s *CODStrategy) ParseWebhook([]byte, string) (*WebhookEvent, error) {
	return nil, apperr.Validation("paymentMethod", "cash on delivery has no gateway callbacks")
}
