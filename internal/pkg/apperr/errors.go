// Package apperr 定义结算核心的领域错误，HTTP 层据此映射状态码
package apperr

import (
	"errors"
	"fmt"
)

// 哨兵错误，配合 errors.Is 判断错误类别
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSignature         = errors.New("signature verification failed")
	ErrGateway           = errors.New("payment gateway error")
	ErrDuplicateEvent    = errors.New("duplicate event")
	ErrNotFound          = errors.New("resource not found")
	ErrGeneration        = errors.New("order number generation failed")
)

// ValidationError 请求参数或业务输入不合法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation 快捷构造
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientStockError 库存不足
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidTransitionError 状态机不允许的流转
type InvalidTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// SignatureError 支付回调签名校验失败
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	if e.Reason == "" {
		return ErrSignature.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSignature.Error(), e.Reason)
}

func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// GatewayError 网关调用失败（超时、网络、5xx）
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// Retryable 网络错误、限流和 5xx 可以重试
func (e *GatewayError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// DuplicateEventError 事件已处理过，调用方按成功确认
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %s already processed", e.EventID)
}

func (e *DuplicateEventError) Is(target error) bool { return target == ErrDuplicateEvent }

// NotFoundError 资源不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound 快捷构造
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// GenerationError 订单号重试耗尽
type GenerationError struct {
	Attempts int
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("could not generate a unique order number after %d attempts", e.Attempts)
}

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }
