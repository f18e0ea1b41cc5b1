package payment

import (
	"fmt"

	"checkout_core/internal/domain/order"
	orderService "checkout_core/internal/domain/order/service"
	"checkout_core/internal/domain/payment/handler"
	"checkout_core/internal/domain/payment/repository"
	"checkout_core/internal/domain/payment/service"
	"checkout_core/internal/domain/payment/strategy"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/internal/pkg/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 支付模块依赖订单模块，所以优先级较低
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	cfg := ctx.Config
	log := ctx.Logger.Named("payment")

	svc, err := ctx.Resolve(order.ServiceName)
	if err != nil {
		return err
	}
	oService, ok := svc.(orderService.OrderService)
	if !ok {
		return fmt.Errorf("%s has unexpected type %T", order.ServiceName, svc)
	}

	// 1. 依赖注入
	pRepo := repository.NewPaymentRepository(ctx.DB)
	var report repository.ReconciliationQuery
	if ctx.SQLX != nil {
		report = repository.NewReconciliationQuery(ctx.SQLX)
	}
	pService := service.NewPaymentService(service.Deps{
		Repo:    pRepo,
		Report:  report,
		Orders:  oService,
		Tx:      ctx.Tx,
		Logger:  log,
		Metrics: ctx.Metrics,
	})

	// 2. 注册支付策略
	if cfg.COD.Enabled {
		pService.RegisterStrategy(strategy.NewCODStrategy(cfg.COD))
	}
	if cfg.Gateway.Enabled() {
		gateway, err := strategy.NewOnlineGateway(cfg.Gateway, log, ctx.Metrics)
		if err != nil {
			log.Error("failed to init online gateway", zap.Error(err))
		} else {
			pService.RegisterStrategy(gateway)
		}
	}

	// 订单模块通过接口回调支付模块
	oService.SetPaymentInitiator(pService)

	// 3. 路由注册
	var limits []gin.HandlerFunc
	if ctx.Limiter != nil {
		limits = append(limits, middleware.RateLimitMiddleware(ctx.Limiter, ctx.Logger))
	}
	handler.NewPaymentHandler(pService).Register(ctx.Router.Group("/payments"),
		middleware.AuthMiddleware(cfg.JWT.Secret),
		middleware.AdminMiddleware(),
		limits...,
	)

	return nil
}
