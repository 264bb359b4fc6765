package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/unitrade/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type entry struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器。
// 回调按注册的逆序依次执行（先停 HTTP，再关存储），和 defer 一样。
type Manager struct {
	callbacks []entry
	mu        sync.Mutex
	once      sync.Once
	err       error
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, entry{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调仍会被调用，但拿到的是已取消的 ctx。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := make([]entry, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		if len(callbacks) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}
		logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

		var errs []error
		for i := len(callbacks) - 1; i >= 0; i-- {
			cb := callbacks[i]
			start := time.Now()
			if err := cb.handler(ctx); err != nil {
				logger.Warnf("关闭 %s 失败: %v", cb.name, err)
				errs = append(errs, fmt.Errorf("%s: %w", cb.name, err))
				continue
			}
			logger.Infof("已关闭 %s (%s)", cb.name, time.Since(start).Round(time.Millisecond))
		}
		if ctx.Err() != nil {
			logger.Warnf("关闭超时: %v", ctx.Err())
		}
		m.err = errors.Join(errs...)
	})
	return m.err
}
