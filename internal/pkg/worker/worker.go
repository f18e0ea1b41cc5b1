package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkout_core/pkg/metrics"

	"go.uber.org/zap"
)

var errTaskPanicked = errors.New("task panicked")

// Task 后台任务；Run 返回错误时按退避重新入队
type Task struct {
	Name  string
	Run   func(ctx context.Context) error
	Retry int // 重试次数
}

// Options 工作池参数
type Options struct {
	WorkerNum  int
	BufferSize int
	MaxRetry   int           // 最大重试次数
	RetryDelay time.Duration // 第 n 次重试前等待 n*RetryDelay
}

type WorkerPool struct {
	TaskQueue  chan Task
	RetryQueue chan Task // 重试队列
	WorkerNum  int
	MaxRetry   int
	RetryDelay time.Duration

	logger  *zap.Logger
	metrics *metrics.MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(opts Options, logger *zap.Logger, collector *metrics.MetricsCollector) *WorkerPool {
	if opts.WorkerNum <= 0 {
		opts.WorkerNum = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		TaskQueue:  make(chan Task, opts.BufferSize),
		RetryQueue: make(chan Task, opts.BufferSize/2+1),
		WorkerNum:  opts.WorkerNum,
		MaxRetry:   opts.MaxRetry,
		RetryDelay: opts.RetryDelay,
		logger:     logger,
		metrics:    collector,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	// 启动重试处理协程
	p.wg.Add(1)
	go p.retryWorker()
	p.logger.Info("worker pool started", zap.Int("workers", p.WorkerNum))
}

// Stop 停止所有协程，队列中未执行的任务记为丢弃
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()

	for {
		select {
		case task := <-p.TaskQueue:
			p.logFailedTask(task, context.Canceled)
		case task := <-p.RetryQueue:
			p.logFailedTask(task, context.Canceled)
		default:
			p.logger.Info("worker pool stopped")
			return
		}
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.TaskQueue:
			p.process(id, task)
		}
	}
}

func (p *WorkerPool) process(id int, task Task) {
	err := p.run(task)
	if err == nil {
		p.metrics.RecordBackgroundTask(task.Name, "success")
		return
	}

	p.logger.Warn("task failed",
		zap.Int("worker", id),
		zap.String("task", task.Name),
		zap.Int("attempt", task.Retry+1),
		zap.Error(err),
	)

	// 如果未达到最大重试次数，加入重试队列
	if task.Retry < p.MaxRetry {
		task.Retry++
		select {
		case p.RetryQueue <- task:
			p.metrics.RecordBackgroundTask(task.Name, "retry")
		default:
			p.logFailedTask(task, err)
		}
		return
	}
	p.logFailedTask(task, err)
}

// run 执行任务并兜住 panic，单个任务不影响工作协程
func (p *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("task", task.Name), zap.Any("panic", r))
			err = errTaskPanicked
		}
	}()
	return task.Run(p.ctx)
}

func (p *WorkerPool) retryWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.RetryQueue:
			// 延迟重试，避免立即重试
			select {
			case <-p.ctx.Done():
				p.logFailedTask(task, context.Canceled)
				return
			case <-time.After(time.Duration(task.Retry) * p.RetryDelay):
			}

			// 重新加入主队列
			select {
			case p.TaskQueue <- task:
			default:
				p.logFailedTask(task, nil)
			}
		}
	}
}

// TODO: 持久化到死信表，目前只记录日志
func (p *WorkerPool) logFailedTask(task Task, err error) {
	p.metrics.RecordBackgroundTask(task.Name, "dropped")
	p.logger.Error("task failed permanently",
		zap.String("task", task.Name),
		zap.Int("retry", task.Retry),
		zap.Error(err),
	)
}

// AddTask 非阻塞入队，队列已满时返回 false
func (p *WorkerPool) AddTask(task Task) bool {
	select {
	case p.TaskQueue <- task:
		return true
	default:
		p.logger.Warn("worker pool queue full, dropping task", zap.String("task", task.Name))
		p.logFailedTask(task, nil)
		return false
	}
}
