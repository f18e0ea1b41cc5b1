package database

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// TxManager 事务管理器：fn 内的所有仓储调用共享同一个事务
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// txScope 一次最外层事务的状态
type txScope struct {
	tx    *gorm.DB
	mu    sync.Mutex
	hooks []func(ctx context.Context)
}

func scopeFrom(ctx context.Context) *txScope {
	s, _ := ctx.Value(txKey{}).(*txScope)
	return s
}

func (s *txScope) addHook(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *txScope) runHooks(ctx context.Context) {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}

// InTx 当前 ctx 是否处于事务中
func InTx(ctx context.Context) bool {
	return scopeFrom(ctx) != nil
}

// Conn 返回当前事务连接，不在事务中时返回普通连接
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if s := scopeFrom(ctx); s != nil && s.tx != nil {
		return s.tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// AfterCommit 注册最外层事务提交后执行的回调；回滚时丢弃。不在事务中时立即执行
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if s := scopeFrom(ctx); s != nil {
		s.addHook(fn)
		return
	}
	fn(ctx)
}

type gormTxManager struct {
	db *gorm.DB
}

// NewTxManager 基于 gorm 的事务管理器
func NewTxManager(db *gorm.DB) TxManager {
	return &gormTxManager{db: db}
}

// RunInTx 开启事务执行 fn；已在事务中时直接加入外层事务
func (m *gormTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	scope := &txScope{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope.tx = tx
		return fn(context.WithValue(ctx, txKey{}, scope))
	})
	if err != nil {
		return err
	}

	scope.runHooks(ctx)
	return nil
}

// LockingTxManager 无数据库的事务管理器：用全局互斥锁串行化 fn，模拟行锁，不支持回滚。
// 用于内存仓储的单元测试和本地工具。
type LockingTxManager struct {
	mu sync.Mutex
}

// NewLockingTxManager 创建串行事务管理器
func NewLockingTxManager() *LockingTxManager {
	return &LockingTxManager{}
}

func (m *LockingTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	scope := &txScope{}
	m.mu.Lock()
	err := fn(context.WithValue(ctx, txKey{}, scope))
	m.mu.Unlock()
	if err != nil {
		return err
	}

	scope.runHooks(ctx)
	return nil
}
