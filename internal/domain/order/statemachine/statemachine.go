// Package statemachine 订单状态机：纯函数，无 I/O
package statemachine

import (
	"checkout_core/internal/domain/order/model"
	"checkout_core/internal/pkg/apperr"
)

// transitions 合法流转表，未列出的状态为终态
var transitions = map[model.Status][]model.Status{
	model.StatusPending:    {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:  {model.StatusProcessing, model.StatusCancelled},
	model.StatusProcessing: {model.StatusShipped, model.StatusCancelled},
	model.StatusShipped:    {model.StatusDelivered},
	model.StatusDelivered:  {model.StatusRefunded},
}

// CanTransition 是否允许从 current 流转到 requested
func CanTransition(current, requested model.Status) bool {
	for _, s := range transitions[current] {
		if s == requested {
			return true
		}
	}
	return false
}

// Validate 不允许的流转返回 InvalidTransitionError
func Validate(current, requested model.Status) error {
	if !CanTransition(current, requested) {
		return &apperr.InvalidTransitionError{Current: string(current), Requested: string(requested)}
	}
	return nil
}

// Allowed 当前状态可流转到的状态
func Allowed(current model.Status) []model.Status {
	next := transitions[current]
	out := make([]model.Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal 终态：cancelled、refunded
func IsTerminal(s model.Status) bool {
	return len(transitions[s]) == 0
}

// IsNoop 重复设置相同状态
func IsNoop(current, requested model.Status) bool {
	return current == requested
}

// Cancellable 用户可自助取消的状态
func Cancellable(s model.Status) bool {
	return s == model.StatusPending || s == model.StatusConfirmed
}
