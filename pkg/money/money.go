// Package money 金额计算，全部使用十进制定点数
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale 金额保留的小数位
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Round 四舍五入到分
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent 计算 amount 的 percent%，结果四舍五入到分
func Percent(amount, percent decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(percent).Div(hundred))
}

// Clamp 将 v 限制在 [lo, hi]；hi 为零值时不设上限
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if !hi.IsZero() && v.GreaterThan(hi) {
		return hi
	}
	return v
}

// ToMinorUnits 转为最小货币单位（如分），半数向上取整
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", amount.String())
	}
	return amount.Shift(Scale).Round(0).IntPart(), nil
}

// FromMinorUnits 最小货币单位转金额
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// FromFloat 配置中的浮点数转金额
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}
