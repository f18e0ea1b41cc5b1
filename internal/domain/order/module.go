package order

import (
	"checkout_core/internal/domain/order/handler"
	"checkout_core/internal/domain/order/repository"
	"checkout_core/internal/domain/order/service"
	stockRepo "checkout_core/internal/domain/stock/repository"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/internal/pkg/registry"
)

// ServiceName 订单服务在模块上下文中的注册名
const ServiceName = "order.service"

// OrderModule 订单模块
type OrderModule struct{}

func init() {
	registry.Register(&OrderModule{})
}

func (m *OrderModule) Name() string {
	return "order"
}

func (m *OrderModule) Priority() int {
	return 10
}

func (m *OrderModule) Init(ctx *registry.ModuleContext) error {
	cfg := ctx.Config

	// 1. 依赖注入
	oRepo := repository.NewOrderRepository(ctx.DB)
	ledger := stockRepo.NewStockLedger(ctx.DB)
	oService := service.NewOrderService(service.Deps{
		Repo:     oRepo,
		Stock:    ledger,
		Tx:       ctx.Tx,
		Notifier: ctx.Notifier,
		Logger:   ctx.Logger.Named("order"),
		Metrics:  ctx.Metrics,
	}, service.Options{
		Pricing:            service.NewPricing(cfg.Checkout),
		CODEnabled:         cfg.COD.Enabled,
		OrderNumberRetries: cfg.Checkout.OrderNumberRetries,
	})
	oHandler := handler.NewOrderHandler(oService)

	// 2. 共享给支付模块
	ctx.Provide(ServiceName, oService)

	// 3. 路由注册
	setupRoutes(ctx, oHandler)

	return nil
}

func setupRoutes(ctx *registry.ModuleContext, h *handler.OrderHandler) {
	g := ctx.Router.Group("/orders")
	g.Use(middleware.AuthMiddleware(ctx.Config.JWT.Secret))
	if ctx.Limiter != nil {
		g.Use(middleware.RateLimitMiddleware(ctx.Limiter, ctx.Logger))
	}
	h.Register(g, middleware.AdminMiddleware())
}
