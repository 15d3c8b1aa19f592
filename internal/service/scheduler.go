package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vitalink-realtime/internal/models"

	"go.uber.org/zap"
)

// JobFunc 定时任务函数
type JobFunc func(ctx context.Context) error

// job 单个定时任务的运行时状态
type job struct {
	name     string
	interval time.Duration
	fn       JobFunc

	enabled atomic.Bool
	running atomic.Bool
	wake    chan struct{}

	mu        sync.Mutex
	runs      int64
	lastRunAt *time.Time
	lastError string
}

// Scheduler 定时任务调度器
// 每个任务独立 goroutine，支持启停和手动触发
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Register 注册定时任务（须在 Start 之前调用）
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{
		name:     name,
		interval: interval,
		fn:       fn,
		wake:     make(chan struct{}, 1),
	}
	j.enabled.Store(true)
	s.jobs[name] = j
	s.order = append(s.order, name)
}

// Start 启动所有任务循环
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, name := range s.order {
		j := s.jobs[name]
		s.wg.Add(1)
		go s.runLoop(runCtx, j)
	}

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop 停止所有任务并等待退出
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// runLoop 单个任务的调度循环
func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if j.enabled.Load() {
				s.runJob(ctx, j)
			}
		case <-j.wake:
			// 手动触发无视启停状态
			s.runJob(ctx, j)
		}
	}
}

// runJob 执行一次任务并记录结果
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		return
	}
	defer j.running.Store(false)

	start := time.Now().UTC()
	err := j.fn(ctx)

	j.mu.Lock()
	j.runs++
	j.lastRunAt = &start
	if err != nil {
		j.lastError = err.Error()
	} else {
		j.lastError = ""
	}
	j.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", j.name),
			zap.Error(err),
		)
	}
}

// Trigger 立即触发一次任务（非阻塞，已有触发排队时丢弃）
func (s *Scheduler) Trigger(name string) error {
	j, err := s.find(name)
	if err != nil {
		return err
	}

	select {
	case j.wake <- struct{}{}:
	default:
	}
	return nil
}

// StartJob 恢复任务的定时执行
func (s *Scheduler) StartJob(name string) error {
	j, err := s.find(name)
	if err != nil {
		return err
	}
	j.enabled.Store(true)
	return nil
}

// StopJob 暂停任务的定时执行
func (s *Scheduler) StopJob(name string) error {
	j, err := s.find(name)
	if err != nil {
		return err
	}
	j.enabled.Store(false)
	return nil
}

// Status 按注册顺序返回全部任务状态
func (s *Scheduler) Status() []models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]models.JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]

		j.mu.Lock()
		status := models.JobStatus{
			Name:      j.name,
			Enabled:   j.enabled.Load(),
			Running:   j.running.Load(),
			Interval:  j.interval,
			Runs:      j.runs,
			LastRunAt: j.lastRunAt,
			LastError: j.lastError,
		}
		j.mu.Unlock()

		statuses = append(statuses, status)
	}
	return statuses
}

func (s *Scheduler) find(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", name, models.ErrNotFound)
	}
	return j, nil
}
