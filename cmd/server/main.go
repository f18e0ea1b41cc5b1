// @title Checkout Core API
// @version 1.0
// @description 下单与支付结算服务
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "checkout_core/internal/domain/order"
	_ "checkout_core/internal/domain/payment"
	"checkout_core/internal/pkg/config"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/internal/pkg/notify"
	"checkout_core/internal/pkg/push"
	"checkout_core/internal/pkg/registry"
	"checkout_core/internal/pkg/worker"
	"checkout_core/pkg/database"
	"checkout_core/pkg/logger"
	"checkout_core/pkg/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.App.Debug})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 基础设施
	db, err := database.InitDatabase(cfg.Database, cfg.App.Debug, log)
	if err != nil {
		return err
	}
	sqlxDB, err := database.NewSQLX(db)
	if err != nil {
		return err
	}

	collector := metrics.NewMetricsCollector(prometheus.DefaultRegisterer)

	pool := worker.NewWorkerPool(worker.Options{
		WorkerNum:  cfg.Worker.Num,
		BufferSize: cfg.Worker.BufferSize,
		MaxRetry:   cfg.Worker.MaxRetry,
		RetryDelay: cfg.Worker.RetryDelay,
	}, log.Named("worker"), collector)
	pool.Start()
	defer pool.Stop()

	sinks, closeSinks := buildSinks(cfg, log)
	defer closeSinks()
	notifier := notify.NewAsyncDispatcher(pool, log.Named("notify"), sinks...)

	limiter, err := buildLimiter(ctx, cfg)
	if err != nil {
		return err
	}

	// 2. HTTP
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TraceMiddleware(),
		middleware.TimeoutMiddleware(cfg.Server.RequestTimeout),
		middleware.LoggerMiddleware(log),
		middleware.MetricsMiddleware(collector),
		cors.New(corsConfig(cfg.Server.AllowOrigins)),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 3. 业务模块
	moduleCtx := &registry.ModuleContext{
		Config:   cfg,
		DB:       db,
		SQLX:     sqlxDB,
		Tx:       database.NewTxManager(db),
		Router:   r,
		Logger:   log,
		Metrics:  collector,
		Notifier: notifier,
		Limiter:  limiter,
	}
	if err := registry.InitModules(moduleCtx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildSinks 按配置组装通知渠道，日志渠道始终开启
func buildSinks(cfg *config.Config, log *zap.Logger) ([]notify.Sink, func()) {
	sinks := []notify.Sink{notify.NewLogSink(log.Named("notify"))}
	closers := []func() error{}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink.Close)
	}

	if cfg.Push.Enabled() {
		svc, err := push.NewAliyunPushService(cfg.Push)
		if err != nil {
			log.Warn("push notifications disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewPushSink(svc))
		}
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close notification sink", zap.Error(err))
			}
		}
	}
}

func buildLimiter(ctx context.Context, cfg *config.Config) (middleware.RateLimiter, error) {
	rl := cfg.RateLimit
	switch rl.Backend {
	case "redis":
		rdb, err := database.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return middleware.NewRedisRateLimiter(rdb, rl.Limit, rl.Window), nil
	case "", "memory":
		if rl.Rate <= 0 {
			return nil, nil
		}
		return middleware.NewIPRateLimiter(rate.Limit(rl.Rate), rl.Burst), nil
	default:
		return nil, errors.New("unknown rate_limit backend: " + rl.Backend)
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AddAllowHeaders("Authorization", "X-Gateway-Signature", "X-Trace-ID")
	return c
}
