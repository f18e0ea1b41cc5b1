package response

import (
	"errors"
	"net/http"

	"checkout_core/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`    // 业务码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// ErrorWithData 错误响应并附带结构化详情
func ErrorWithData(c *gin.Context, httpCode int, errCode int, msg string, data interface{}) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    data,
	})
}

// Status 将领域错误映射为 HTTP 状态码和业务码
func Status(err error) (httpCode int, errCode int) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, ErrInvalidParam
	case errors.Is(err, apperr.ErrInsufficientStock):
		return http.StatusConflict, ErrInsufficientStock
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, ErrInvalidTransition
	case errors.Is(err, apperr.ErrSignature):
		return http.StatusUnauthorized, ErrSignatureInvalid
	case errors.Is(err, apperr.ErrGateway):
		return http.StatusBadGateway, ErrGatewayFailed
	case errors.Is(err, apperr.ErrDuplicateEvent):
		return http.StatusOK, ErrDuplicateEvent
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, apperr.ErrGeneration):
		return http.StatusInternalServerError, ErrOrderNumberExhausted
	default:
		return http.StatusInternalServerError, ErrServerInternal
	}
}

// FromError 按错误类型输出统一错误响应
func FromError(c *gin.Context, err error) {
	httpCode, errCode := Status(err)

	var stockErr *apperr.InsufficientStockError
	if errors.As(err, &stockErr) {
		ErrorWithData(c, httpCode, errCode, stockErr.Error(), gin.H{
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
		return
	}

	msg := err.Error()
	if httpCode == http.StatusInternalServerError && errCode == ErrServerInternal {
		msg = "internal server error"
	}
	Error(c, httpCode, errCode, msg)
}
