// 包 models：分割模型后端的统一契约、注册与心跳健康管理
package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"roadscan-api/internal/logger"
	"roadscan-api/internal/metrics"
)

// Image：单张影像张量，行 x 列 x 通道
type Image [][][]float32

var (
	ErrUnknownRole      = errors.New("no model registered for role")
	ErrModelUnavailable = errors.New("model backend unavailable")
)

// 文档注释：模型后端接口
// 约束：Predict 输入输出均为单张影像；Heartbeat 返回 nil 表示可以接受请求。
type Backend interface {
	Name() string
	Predict(ctx context.Context, img Image) (Image, error)
	Heartbeat(ctx context.Context) error
}

type status struct {
	healthy bool
	last    time.Time
	err     string
}

// 文档注释：模型管理器
// 背景：按角色（road/tree）登记后端，周期探活；上一次心跳失败的后端直接拒绝推理。
// 约束：注册时默认健康；心跳周期默认 10s；读写均加锁。
type Manager struct {
	mu         sync.RWMutex
	backends   map[string]Backend
	st         map[string]status
	hbInterval time.Duration
}

func NewManager() *Manager {
	return &Manager{backends: make(map[string]Backend), st: make(map[string]status), hbInterval: 10 * time.Second}
}

// SetHeartbeatInterval：仅在 Start 之前调用
func (m *Manager) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		m.hbInterval = d
	}
}

func (m *Manager) Register(role string, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[role] = b
	m.st[role] = status{healthy: true, last: time.Now()}
	metrics.ModelHealthy.WithLabelValues(role).Set(1)
	logger.L().Info("model_registered", "role", role, "name", b.Name())
}

// Roles：已注册角色，按名称排序
func (m *Manager) Roles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.backends))
	for r := range m.backends {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Healthy(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.backends[role]
	return ok && m.st[role].healthy
}

// Status：角色到健康状态的快照，供 /health 使用
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.backends))
	for r := range m.backends {
		out[r] = m.st[r].healthy
	}
	return out
}

// Predict：按角色路由推理，记录耗时与结果
func (m *Manager) Predict(ctx context.Context, role string, img Image) (Image, error) {
	m.mu.RLock()
	b, ok := m.backends[role]
	st := m.st[role]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if !st.healthy {
		metrics.InferenceTotal.WithLabelValues(role, "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s (%s)", ErrModelUnavailable, role, st.err)
	}
	t0 := time.Now()
	out, err := b.Predict(ctx, img)
	metrics.InferenceDurationMs.WithLabelValues(role).Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		metrics.InferenceTotal.WithLabelValues(role, "error").Inc()
		logger.L().Error("model_predict_error", "role", role, "name", b.Name(), "err", err)
		return nil, err
	}
	metrics.InferenceTotal.WithLabelValues(role, "ok").Inc()
	logger.L().Debug("model_predict_ok", "role", role, "name", b.Name(), "duration_ms", time.Since(t0).Milliseconds())
	return out, nil
}

// Start：后台心跳循环，ctx 取消时退出；启动时立即探活一次
func (m *Manager) Start(ctx context.Context) {
	m.Heartbeat(ctx)
	t := time.NewTicker(m.hbInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Heartbeat(ctx)
			}
		}
	}()
}

// Heartbeat：对所有后端探活一次；探活在锁外进行，避免阻塞推理
func (m *Manager) Heartbeat(ctx context.Context) {
	m.mu.RLock()
	snapshot := make(map[string]Backend, len(m.backends))
	for r, b := range m.backends {
		snapshot[r] = b
	}
	m.mu.RUnlock()
	for role, b := range snapshot {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := b.Heartbeat(hctx)
		cancel()
		s := status{healthy: err == nil, last: time.Now()}
		if err != nil {
			s.err = err.Error()
			logger.L().Warn("model_heartbeat_fail", "role", role, "name", b.Name(), "err", err)
			metrics.ModelHeartbeatTotal.WithLabelValues(role, "fail").Inc()
			metrics.ModelHealthy.WithLabelValues(role).Set(0)
		} else {
			logger.L().Debug("model_heartbeat_ok", "role", role, "name", b.Name())
			metrics.ModelHeartbeatTotal.WithLabelValues(role, "ok").Inc()
			metrics.ModelHealthy.WithLabelValues(role).Set(1)
		}
		m.mu.Lock()
		m.st[role] = s
		m.mu.Unlock()
	}
}
