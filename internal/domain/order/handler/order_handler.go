package handler

import (
	"net/http"

	"checkout_core/internal/domain/order/model"
	"checkout_core/internal/domain/order/service"
	paymentModel "checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/pkg/response"
	"checkout_core/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrderHandler 订单处理器
type OrderHandler struct {
	service service.OrderService
}

// NewOrderHandler 创建处理器
func NewOrderHandler(service service.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// CreateOrderInput 下单输入
type CreateOrderInput struct {
	PaymentMethod     string                    `json:"paymentMethod" binding:"required"`
	Items             []service.CreateOrderItem `json:"items" binding:"required,min=1"`
	Notes             string                    `json:"notes"`
	CouponCode        string                    `json:"couponCode"`
	ShippingAddressID string                    `json:"shippingAddressId"`
}

// CreateOrderOutput 下单结果；intentError 非空时客户端可调用支付重试接口
type CreateOrderOutput struct {
	Order       *model.Order          `json:"order"`
	Payment     *paymentModel.Payment `json:"payment,omitempty"`
	IntentError string                `json:"intentError,omitempty"`
}

// CancelOrderInput 取消订单输入
type CancelOrderInput struct {
	Reason string `json:"reason"`
}

// UpdateStatusInput 管理员更新订单状态
type UpdateStatusInput struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// CreateOrder 下单
// @Summary 下单
// @Tags 订单
// @Accept json
// @Produce json
// @Param input body CreateOrderInput true "订单信息"
// @Success 201 {object} response.Response{data=CreateOrderOutput}
// @Failure 409 {object} response.Response
// @Router /orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var input CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	result, err := h.service.CreateOrder(c.Request.Context(), service.CreateOrderCommand{
		UserID:            middleware.CurrentUserID(c),
		PaymentMethod:     paymentModel.Method(input.PaymentMethod),
		Items:             input.Items,
		Notes:             input.Notes,
		CouponCode:        input.CouponCode,
		ShippingAddressID: input.ShippingAddressID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	out := CreateOrderOutput{Order: result.Order, Payment: result.Payment}
	if result.IntentError != nil {
		out.IntentError = result.IntentError.Error()
	}
	response.Created(c, out)
}

// ListOrders 当前用户的订单列表
// @Summary 订单列表
// @Tags 订单
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} response.Response{data=utils.PageResult}
// @Router /orders [get]
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var page utils.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	orders, total, err := h.service.ListOrders(c.Request.Context(), middleware.CurrentUserID(c), page)
	if err != nil {
		response.FromError(c, err)
		return
	}

	page.GetPageOffset()
	response.Success(c, utils.PageResult{List: orders, Total: total, Page: page.Page, Limit: page.Limit})
}

// GetOrder 订单详情（含状态记录）
// @Summary 订单详情
// @Tags 订单
// @Produce json
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 404 {object} response.Response
// @Router /orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), id, owner(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 取消订单并归还库存
// @Summary 取消订单
// @Tags 订单
// @Accept json
// @Produce json
// @Param id path string true "订单ID"
// @Param input body CancelOrderInput false "取消原因"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 409 {object} response.Response
// @Router /orders/{id}/cancel [post]
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var input CancelOrderInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	if _, err := h.service.GetOrder(ctx, id, owner(c)); err != nil {
		response.FromError(c, err)
		return
	}

	order, err := h.service.CancelOrder(ctx, id, input.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// UpdateStatus 管理员推进订单状态
// @Summary 更新订单状态
// @Tags 订单
// @Accept json
// @Produce json
// @Param id path string true "订单ID"
// @Param input body UpdateStatusInput true "目标状态"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 409 {object} response.Response
// @Router /orders/{id}/status [put]
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var input UpdateStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	status, err := model.ParseStatus(input.Status)
	if err != nil {
		response.FromError(c, apperr.Validation("status", err.Error()))
		return
	}

	order, err := h.service.UpdateStatus(c.Request.Context(), id, status, input.Notes)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// Register 挂载订单路由；g 需已完成认证，admin 为管理员校验中间件
func (h *OrderHandler) Register(g *gin.RouterGroup, admin gin.HandlerFunc) {
	g.POST("", h.CreateOrder)
	g.GET("", h.ListOrders)
	g.GET("/:id", h.GetOrder)
	g.POST("/:id/cancel", h.CancelOrder)
	g.PUT("/:id/status", admin, h.UpdateStatus)
}

func orderID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid order id")
		return "", false
	}
	return id, true
}

// owner 管理员可查看所有订单
func owner(c *gin.Context) string {
	if middleware.IsAdmin(c) {
		return ""
	}
	return middleware.CurrentUserID(c)
}
