package strategy

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	orderModel "checkout_core/internal/domain/order/model"
	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/internal/pkg/config"
	"checkout_core/pkg/metrics"
	"checkout_core/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultGatewayTimeout = 30 * time.Second

var errGatewayConfigMissing = errors.New("payment gateway config missing")

// OnlineGateway 在线支付网关适配器，HTTP + HMAC-SHA256 签名
type OnlineGateway struct {
	cfg     config.GatewayConfig
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewOnlineGateway(cfg config.GatewayConfig, logger *zap.Logger, collector *metrics.MetricsCollector) (*OnlineGateway, error) {
	if cfg.BaseURL == "" || cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errGatewayConfigMissing
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OnlineGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: collector,
	}, nil
}

func (g *OnlineGateway) Method() model.Method {
	return model.MethodOnline
}

// IdempotencyKey 第一次尝试使用订单号，失败后的重试追加序号，网关据此生成新的支付订单
func IdempotencyKey(orderNumber string, attempt int) string {
	if attempt <= 1 {
		return orderNumber
	}
	return fmt.Sprintf("%s-%d", orderNumber, attempt)
}

type createOrderRequest struct {
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Notes       map[string]string `json:"notes,omitempty"`
}

type createOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// CreateIntent 调用网关创建支付订单；超时、网络错误和 5xx 返回可重试的 GatewayError
func (g *OnlineGateway) CreateIntent(ctx context.Context, order *orderModel.Order, attempt int) (*Intent, error) {
	amount, err := money.ToMinorUnits(order.TotalAmount)
	if err != nil {
		return nil, apperr.Validation("totalAmount", err.Error())
	}

	body, err := json.Marshal(createOrderRequest{
		AmountMinor: amount,
		Currency:    order.Currency,
		Receipt:     order.OrderNumber,
		Notes:       map[string]string{"order_id": order.ID},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(order.OrderNumber, attempt))

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		gwErr := &apperr.GatewayError{Op: "create_order", Err: err}
		g.metrics.RecordGatewayRequest("create_order", time.Since(start), gwErr)
		return nil, gwErr
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		gwErr := &apperr.GatewayError{Op: "create_order", StatusCode: resp.StatusCode, Err: err}
		g.metrics.RecordGatewayRequest("create_order", time.Since(start), gwErr)
		return nil, gwErr
	}
	if resp.StatusCode >= http.StatusBadRequest {
		gwErr := &apperr.GatewayError{
			Op:         "create_order",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(payload))),
		}
		g.metrics.RecordGatewayRequest("create_order", time.Since(start), gwErr)
		return nil, gwErr
	}
	g.metrics.RecordGatewayRequest("create_order", time.Since(start), nil)

	var out createOrderResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &apperr.GatewayError{Op: "create_order", StatusCode: resp.StatusCode, Err: err}
	}
	if out.ID == "" {
		return nil, &apperr.GatewayError{Op: "create_order", StatusCode: resp.StatusCode, Err: errors.New("missing order id")}
	}

	g.logger.Info("gateway order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("gateway_order_id", out.ID),
		zap.Int("attempt", attempt),
		zap.Int64("amount_minor", out.Amount),
	)

	return &Intent{
		GatewayOrderID: out.ID,
		AmountMinor:    amount,
		Currency:       order.Currency,
		Status:         model.StatusPending,
		Surcharge:      decimal.Zero,
	}, nil
}

// Verify 校验 HMAC-SHA256("{orderId}|{paymentId}")
func (g *OnlineGateway) Verify(gatewayOrderID, gatewayPaymentID, signature string) (bool, error) {
	if gatewayOrderID == "" {
		return false, apperr.Validation("gatewayOrderId", "is required")
	}
	if gatewayPaymentID == "" {
		return false, apperr.Validation("gatewayPaymentId", "is required")
	}
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false, apperr.Validation("signature", "must be a hex encoded sha256 digest")
	}

	expected := sign(g.cfg.KeySecret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
	return hmac.Equal(got, expected), nil
}

type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
				Amount  int64  `json:"amount"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID      string `json:"id"`
				Receipt string `json:"receipt"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook 先校验原始报文签名，再解析
func (g *OnlineGateway) ParseWebhook(raw []byte, signature string) (*WebhookEvent, error) {
	if g.cfg.WebhookSecret == "" {
		return nil, &apperr.SignatureError{Reason: "webhook secret not configured"}
	}
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(got, sign(g.cfg.WebhookSecret, raw)) {
		return nil, &apperr.SignatureError{Reason: "webhook signature mismatch"}
	}

	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Validation("body", "malformed webhook payload")
	}
	if env.ID == "" || env.Event == "" {
		return nil, apperr.Validation("body", "webhook id and event are required")
	}

	evt := &WebhookEvent{
		EventID:          env.ID,
		Event:            env.Event,
		GatewayOrderID:   env.Payload.Payment.Entity.OrderID,
		GatewayPaymentID: env.Payload.Payment.Entity.ID,
		Receipt:          env.Payload.Order.Entity.Receipt,
		AmountMinor:      env.Payload.Payment.Entity.Amount,
		PaymentStatus:    env.Payload.Payment.Entity.Status,
	}
	if evt.GatewayOrderID == "" {
		evt.GatewayOrderID = env.Payload.Order.Entity.ID
	}
	if evt.GatewayOrderID == "" {
		return nil, apperr.Validation("body", "gateway order id is missing")
	}
	return evt, nil
}

// Sign 计算 hex 编码的 HMAC-SHA256，供测试和本地联调生成签名
func Sign(secret string, data []byte) string {
	return hex.EncodeToString(sign(secret, data))
}

func sign(secret string, data []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}
