package registry

import (
	"fmt"
	"sort"
	"sync"

	"checkout_core/internal/pkg/config"
	"checkout_core/internal/pkg/middleware"
	"checkout_core/internal/pkg/notify"
	"checkout_core/pkg/database"
	"checkout_core/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ModuleContext 模块初始化所需的上下文
type ModuleContext struct {
	Config   *config.Config
	DB       *gorm.DB
	SQLX     *sqlx.DB
	Tx       database.TxManager
	Router   *gin.Engine
	Logger   *zap.Logger
	Metrics  *metrics.MetricsCollector
	Notifier notify.Dispatcher
	Limiter  middleware.RateLimiter

	mu       sync.RWMutex
	services map[string]interface{}
}

// Provide 注册共享服务，供优先级更低的模块使用
func (c *ModuleContext) Provide(name string, svc interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services == nil {
		c.services = make(map[string]interface{})
	}
	c.services[name] = svc
}

// Resolve 获取已注册的共享服务
func (c *ModuleContext) Resolve(name string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[name]
	if !ok {
		return nil, fmt.Errorf("service %q is not provided; check module priorities", name)
	}
	return svc, nil
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	// 例如：order 模块需要先于 payment 模块初始化
	Priority() int
}

// moduleRegistry 全局模块注册表，仅在 init() 阶段写入
var moduleRegistry = make(map[string]Module)

// Register 注册模块
func Register(module Module) {
	moduleRegistry[module.Name()] = module
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}

	sort.SliceStable(modules, func(i, j int) bool {
		if modules[i].Priority() == modules[j].Priority() {
			return modules[i].Name() < modules[j].Name()
		}
		return modules[i].Priority() < modules[j].Priority()
	})

	// 按顺序初始化
	for _, module := range modules {
		if err := module.Init(ctx); err != nil {
			return fmt.Errorf("init module %s: %w", module.Name(), err)
		}
		if ctx.Logger != nil {
			ctx.Logger.Info("module initialized", zap.String("module", module.Name()))
		}
	}

	return nil
}
