/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package monitor runs the steady-state health check loop of a running service.
// monitor 包运行服务稳态阶段的健康检查循环。
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/seatunnel/seatunnelX/svcd/internal/health"
)

// DefaultMonitorInterval is the default steady-state probe period
// DefaultMonitorInterval 是默认的稳态探测周期
const DefaultMonitorInterval = 30 * time.Second

// ResultHandler receives the result of every probe
// ResultHandler 接收每次探测的结果
type ResultHandler func(healthy bool)

// HealthMonitor probes one URL on a fixed period
// HealthMonitor 按固定周期探测一个 URL
type HealthMonitor struct {
	checker  health.Checker
	url      string
	interval time.Duration
	handler  ResultHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHealthMonitor creates a HealthMonitor; a non-positive interval uses DefaultMonitorInterval
// NewHealthMonitor 创建 HealthMonitor，非正间隔使用 DefaultMonitorInterval
func NewHealthMonitor(checker health.Checker, url string, interval time.Duration, handler ResultHandler) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &HealthMonitor{
		checker:  checker,
		url:      url,
		interval: interval,
		handler:  handler,
	}
}

// Start starts the monitor loop; calling Start twice is a no-op
// Start 启动监控循环，重复调用不做任何操作
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.monitorLoop(loopCtx, m.done)
}

// Stop cancels the loop without waiting for an in-flight probe.
// Results of a probe cancelled this way are discarded.
// Stop 取消循环，不等待进行中的探测，被取消的探测结果会被丢弃。
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

// Done is closed when the loop has exited; nil before Start
// Done 在循环退出后关闭，Start 之前为 nil
func (m *HealthMonitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// IsRunning reports whether the loop is active
func (m *HealthMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// monitorLoop runs the monitoring loop
// monitorLoop 运行监控循环
func (m *HealthMonitor) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := m.checker.Check(ctx, m.url)
			if ctx.Err() != nil {
				return
			}
			m.handler(healthy)
		}
	}
}
