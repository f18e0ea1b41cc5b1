package service

import (
	"checkout_core/internal/pkg/config"
	"checkout_core/pkg/money"

	"github.com/shopspring/decimal"
)

// Pricing 计价规则：税按小计百分比，运费低于包邮门槛时收取，优惠限制在 [0, 小计]
type Pricing struct {
	Currency              string
	TaxPercent            decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// NewPricing 从配置构造计价规则
func NewPricing(cfg config.CheckoutConfig) Pricing {
	return Pricing{
		Currency:              cfg.Currency,
		TaxPercent:            decimal.NewFromFloat(cfg.TaxPercent),
		ShippingFee:           money.FromFloat(cfg.ShippingFee),
		FreeShippingThreshold: money.FromFloat(cfg.FreeShippingThreshold),
	}
}

// Totals 订单金额
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Compute 计算订单金额
func (p Pricing) Compute(subtotal, discount decimal.Decimal) Totals {
	tax := money.Percent(subtotal, p.TaxPercent)

	shipping := decimal.Zero
	if subtotal.LessThan(p.FreeShippingThreshold) {
		shipping = p.ShippingFee
	}

	discount = decimal.Max(decimal.Zero, decimal.Min(money.Round(discount), subtotal))

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}
