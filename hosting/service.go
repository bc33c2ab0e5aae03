package hosting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocrud/testkit/logging"
)

// HostedService 托管服务接口
type HostedService interface {
	// Start 启动服务，阻塞直到 ctx 被取消或发生错误。管理器在独立的 goroutine 中调用。
	Start(ctx context.Context) error
	// Stop 执行优雅关闭，必须遵守 ctx 的超时
	Stop(ctx context.Context) error
}

// Manager 托管服务管理器
type Manager struct {
	services []HostedService
	logger   logging.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	cancel context.CancelFunc
	errs   []error
}

// NewManager 创建托管服务管理器
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewLogger("hosting")
	}
	return &Manager{logger: logger}
}

// Add 添加托管服务，只能在 StartAll 之前调用
func (m *Manager) Add(services ...HostedService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, services...)
}

// Len 返回服务数量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.services)
}

// StartAll 在各自的 goroutine 中启动所有服务。
// ctx 取消或 StopAll 时服务的 Start 应当返回。
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, m.cancel = context.WithCancel(ctx)

	m.logger.Debug("starting hosted services", logging.F("count", len(m.services)))
	for i, svc := range m.services {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			err := svc.Start(ctx)
			switch {
			case err == nil:
				m.logger.Debug("hosted service completed", logging.F("index", i))
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				m.logger.Debug("hosted service stopped (context done)", logging.F("index", i))
			default:
				m.logger.Error("hosted service failed",
					logging.F("index", i), logging.F("error", err.Error()))
				m.mu.Lock()
				m.errs = append(m.errs, fmt.Errorf("hosting: service %d (%T): %w", i, svc, err))
				m.mu.Unlock()
			}
		}()
	}
}

// StopAll 逆序停止所有服务，取消 Start 的 context，并等待 Start 返回。
// 返回停止失败与 Start 失败的错误。
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	services := append([]HostedService(nil), m.services...)
	cancel := m.cancel
	m.mu.Unlock()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			m.logger.Error("failed to stop hosted service",
				logging.F("index", i), logging.F("error", err.Error()))
			errs = append(errs, fmt.Errorf("hosting: stop service %d (%T): %w", i, services[i], err))
		}
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("hosting: services still running: %w", ctx.Err()))
	}
	return errors.Join(append(errs, m.Err())...)
}

// Err 返回已失败的服务的错误
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}

// BackgroundService 阻塞直到被停止的后台服务，可以嵌入到自定义服务中
type BackgroundService struct {
	name   string
	logger logging.Logger
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewBackgroundService 创建后台服务
func NewBackgroundService(name string, logger logging.Logger) *BackgroundService {
	if logger == nil {
		logger = logging.NewLogger("hosting")
	}
	return &BackgroundService{
		name:   name,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start 阻塞直到 Stop 或 ctx 取消
func (s *BackgroundService) Start(ctx context.Context) error {
	defer s.done()
	select {
	case <-s.stopCh:
		s.logger.Debug("background service stopped", logging.F("name", s.name))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 发出停止信号并等待 Start 返回
func (s *BackgroundService) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		s.logger.Warn("background service stop timeout", logging.F("name", s.name))
		return ctx.Err()
	}
}

// StopChan 返回停止通道
func (s *BackgroundService) StopChan() <-chan struct{} { return s.stopCh }

func (s *BackgroundService) done() {
	select {
	case <-s.doneCh:
	default:
		close(s.doneCh)
	}
}

// TimedService 按固定间隔执行任务的托管服务
type TimedService struct {
	*BackgroundService
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewTimedService 创建定时服务
func NewTimedService(name string, interval time.Duration, task func(ctx context.Context) error, logger logging.Logger) *TimedService {
	return &TimedService{
		BackgroundService: NewBackgroundService(name, logger),
		interval:          interval,
		task:              task,
	}
}

// Start 每隔 interval 执行一次任务，任务失败只记录日志
func (s *TimedService) Start(ctx context.Context) error {
	defer s.done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.task(ctx); err != nil {
				s.logger.Error("timed task failed",
					logging.F("name", s.name), logging.F("error", err.Error()))
			}
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
