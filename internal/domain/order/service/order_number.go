package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderNumberFunc 生成订单号
type OrderNumberFunc func(now time.Time) string

// NewOrderNumber 日期前缀 + 8 位随机大写字母数字，如 20240315-3F9A0C1B
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return now.UTC().Format("20060102") + "-" + suffix
}
