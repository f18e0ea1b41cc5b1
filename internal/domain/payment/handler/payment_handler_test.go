package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	orderService "checkout_core/internal/domain/order/service"
	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/domain/payment/service"
	"checkout_core/internal/domain/payment/strategy"
	"checkout_core/internal/pkg/config"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/internal/pkg/testutil"
	"checkout_core/pkg/database"
	"checkout_core/pkg/response"
	"checkout_core/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "0123456789abcdef0123456789abcdef"
	webhookSecret = "whsec"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type fixture struct {
	router *gin.Engine
	orders orderService.OrderService
}

func newFixture(t *testing.T, limits ...gin.HandlerFunc) *fixture {
	t.Helper()
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Receipt string `json:"receipt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "gw_" + req.Receipt, "status": "created"})
	}))
	t.Cleanup(gw.Close)

	stock := testutil.NewStockLedger()
	stock.Put("p", "100", 10)
	tx := database.NewLockingTxManager()

	orders := orderService.NewOrderService(orderService.Deps{
		Repo:  testutil.NewOrderRepository(),
		Stock: stock,
		Tx:    tx,
	}, orderService.Options{
		Pricing:    orderService.Pricing{Currency: "INR", TaxPercent: decimal.NewFromInt(18)},
		CODEnabled: true,
	})
	payments := service.NewPaymentService(service.Deps{Repo: testutil.NewPaymentRepository(), Orders: orders, Tx: tx})
	orders.SetPaymentInitiator(payments)

	online, err := strategy.NewOnlineGateway(config.GatewayConfig{
		BaseURL: gw.URL, KeyID: "key", KeySecret: "key_secret", WebhookSecret: webhookSecret, Timeout: time.Second,
	}, nil, nil)
	require.NoError(t, err)
	payments.RegisterStrategy(online)
	payments.RegisterStrategy(strategy.NewCODStrategy(config.CODConfig{SurchargePercent: 2, MinSurcharge: 20, MaxSurcharge: 100}))

	r := gin.New()
	NewPaymentHandler(payments).Register(r.Group("/payments"),
		middleware.AuthMiddleware(testSecret),
		middleware.AdminMiddleware(),
		limits...,
	)
	return &fixture{router: r, orders: orders}
}

func (f *fixture) place(t *testing.T, method model.Method) *orderService.CreateOrderResult {
	t.Helper()
	result, err := f.orders.CreateOrder(context.Background(), orderService.CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: method,
		Items:         []orderService.CreateOrderItem{{ProductID: "p", Quantity: 1}},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	return result
}

func (f *fixture) request(t *testing.T, method, path string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func bearer(t *testing.T, userID, role string) map[string]string {
	t.Helper()
	tok, err := utils.GenerateToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func captured(eventID, gatewayOrderID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":    eventID,
		"event": strategy.EventPaymentCaptured,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{"entity": map[string]interface{}{"id": "pay_1", "order_id": gatewayOrderID}},
		},
	})
	return body
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	result := f.place(t, model.MethodOnline)
	raw := captured("evt_1", *result.Payment.GatewayOrderID)
	signed := map[string]string{SignatureHeader: strategy.Sign(webhookSecret, raw)}

	w, resp := f.request(t, http.MethodPost, "/payments/webhook", raw, map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrSignatureInvalid, resp.Code)

	w, resp = f.request(t, http.MethodPost, "/payments/webhook", raw, signed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":true}`, string(resp.Data))

	// 网关重试同一事件
	w, resp = f.request(t, http.MethodPost, "/payments/webhook", raw, signed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":false}`, string(resp.Data))

	unknown := captured("evt_2", "gw_unknown")
	w, _ = f.request(t, http.MethodPost, "/payments/webhook", unknown,
		map[string]string{SignatureHeader: strategy.Sign(webhookSecret, unknown)})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookIsNotRateLimited(t *testing.T) {
	blocked := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests})
	}
	f := newFixture(t, blocked)
	result := f.place(t, model.MethodOnline)
	raw := captured("evt_1", *result.Payment.GatewayOrderID)

	w, resp := f.request(t, http.MethodPost, "/payments/webhook", raw,
		map[string]string{SignatureHeader: strategy.Sign(webhookSecret, raw)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":true}`, string(resp.Data))

	w, _ = f.request(t, http.MethodPost, "/payments/verify", []byte(`{}`), bearer(t, "user-1", "user"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	result := f.place(t, model.MethodOnline)
	gatewayOrderID := *result.Payment.GatewayOrderID

	body, _ := json.Marshal(map[string]string{
		"gatewayOrderId":   gatewayOrderID,
		"gatewayPaymentId": "pay_1",
		"signature":        strategy.Sign("wrong", []byte(gatewayOrderID+"|pay_1")),
	})
	w, _ := f.request(t, http.MethodPost, "/payments/verify", body, bearer(t, "user-1", ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body, _ = json.Marshal(map[string]string{
		"gatewayOrderId":   gatewayOrderID,
		"gatewayPaymentId": "pay_1",
		"signature":        strategy.Sign("key_secret", []byte(gatewayOrderID+"|pay_1")),
	})
	w, resp := f.request(t, http.MethodPost, "/payments/verify", body, bearer(t, "user-1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var payment model.Payment
	require.NoError(t, json.Unmarshal(resp.Data, &payment))
	assert.Equal(t, model.StatusCompleted, payment.Status)

	w, _ = f.request(t, http.MethodPost, "/payments/verify", []byte(`{}`), bearer(t, "user-1", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmCOD(t *testing.T) {
	f := newFixture(t)
	result := f.place(t, model.MethodCOD)
	path := "/payments/" + result.Payment.ID + "/cod/confirm"

	w, _ := f.request(t, http.MethodPost, path, nil, bearer(t, "user-1", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := f.request(t, http.MethodPost, path, nil, bearer(t, "ops", utils.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	var payment model.Payment
	require.NoError(t, json.Unmarshal(resp.Data, &payment))
	assert.Equal(t, model.StatusCompleted, payment.Status)

	w, _ = f.request(t, http.MethodPost, "/payments/nope/cod/confirm", nil, bearer(t, "ops", utils.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateIntentAndReconciliation(t *testing.T) {
	f := newFixture(t)
	result := f.place(t, model.MethodOnline)

	w, resp := f.request(t, http.MethodPost, "/payments/orders/"+result.Order.ID+"/intent", nil, bearer(t, "user-1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var payment model.Payment
	require.NoError(t, json.Unmarshal(resp.Data, &payment))
	assert.Equal(t, result.Payment.ID, payment.ID)

	w, _ = f.request(t, http.MethodGet, "/payments/reconciliation", nil, bearer(t, "user-1", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = f.request(t, http.MethodGet, "/payments/reconciliation?limit=10", nil, bearer(t, "ops", utils.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}
