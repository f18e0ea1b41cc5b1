package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"checkout_core/internal/domain/payment/service"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SignatureHeader 网关回调签名头
const SignatureHeader = "X-Gateway-Signature"

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	service service.PaymentService
}

func NewPaymentHandler(s service.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: s}
}

// Register 挂载支付路由；webhook 不走登录认证，靠签名校验
// Register 注册路由；limits 只作用于客户端接口，网关回调不限流
func (h *PaymentHandler) Register(g *gin.RouterGroup, auth, admin gin.HandlerFunc, limits ...gin.HandlerFunc) {
	g.POST("/webhook", h.Webhook)

	authorized := g.Group("")
	authorized.Use(limits...)
	authorized.Use(auth)
	{
		authorized.POST("/orders/:id/intent", h.CreateIntent)
		authorized.POST("/verify", h.Verify)
		authorized.POST("/:id/cod/confirm", admin, h.ConfirmCOD)
		authorized.GET("/reconciliation", admin, h.Reconciliation)
	}
}

// CreateIntent 重新创建在线支付意图
// @Summary 重试支付
// @Tags Payment
// @Produce json
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=model.Payment}
// @Failure 502 {object} response.Response
// @Router /payments/orders/{id}/intent [post]
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	userID := middleware.CurrentUserID(c)
	if middleware.IsAdmin(c) {
		userID = ""
	}
	payment, err := h.service.CreateIntentForOrder(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, payment)
}

// Verify 客户端支付完成后回传签名
// @Summary 校验支付签名
// @Tags Payment
// @Accept json
// @Produce json
// @Param input body service.VerifyCommand true "网关回传参数"
// @Success 200 {object} response.Response{data=model.Payment}
// @Failure 401 {object} response.Response
// @Router /payments/verify [post]
func (h *PaymentHandler) Verify(c *gin.Context) {
	var input service.VerifyCommand
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	input.UserID = middleware.CurrentUserID(c)

	payment, err := h.service.VerifyPayment(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, payment)
}

// Webhook 网关异步回调
// @Summary 支付网关回调
// @Tags Payment
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC-SHA256 签名"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "cannot read body")
		return
	}

	applied, err := h.service.ReconcileWebhook(c.Request.Context(), raw, c.GetHeader(SignatureHeader))
	switch {
	case err == nil:
		response.Success(c, gin.H{"applied": applied})
	case errors.Is(err, apperr.ErrSignature):
		// 签名错误按请求错误返回，网关不会重试
		response.Error(c, http.StatusBadRequest, response.ErrSignatureInvalid, err.Error())
	default:
		response.FromError(c, err)
	}
}

// ConfirmCOD 货到付款签收确认
// @Summary 确认货到付款
// @Tags Payment
// @Produce json
// @Param id path string true "支付ID"
// @Success 200 {object} response.Response{data=model.Payment}
// @Router /payments/{id}/cod/confirm [post]
func (h *PaymentHandler) ConfirmCOD(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	payment, err := h.service.ConfirmCOD(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, payment)
}

// Reconciliation 待人工核对的支付
// @Summary 对账差异
// @Tags Payment
// @Produce json
// @Param limit query int false "条数"
// @Success 200 {object} response.Response{data=[]repository.Discrepancy}
// @Router /payments/reconciliation [get]
func (h *PaymentHandler) Reconciliation(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, err := h.service.ListDiscrepancies(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, rows)
}

func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid id")
		return "", false
	}
	return id, true
}
