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

// Package registry owns one supervisor per known service and exposes the
// control surface used by the host.
// registry 包为每个已知服务持有一个监管器，并向宿主提供控制接口。
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/health"
	"github.com/seatunnel/seatunnelX/svcd/internal/logrouter"
	"github.com/seatunnel/seatunnelX/svcd/internal/metrics"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StatusSubscriber receives status snapshots of every service
// StatusSubscriber 接收所有服务的状态快照
type StatusSubscriber func(supervisor.State)

// Options configures a Registry
// Options 配置 Registry
type Options struct {
	Store  *config.Store
	Router *logrouter.Router
	Timing config.SupervisorConfig

	// Checker defaults to an HTTP probe
	Checker health.Checker
	// Metrics is optional / 可选
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Test hooks for the spawn environment
	LookupEnv supervisor.LookupEnvFunc
	Environ   func() []string
}

// Registry is the single entry point for controlling services
// Registry 是控制服务的唯一入口
type Registry struct {
	store       *config.Store
	router      *logrouter.Router
	metrics     *metrics.Metrics
	logger      *zap.Logger
	supervisors map[config.ServiceName]*supervisor.Supervisor

	subsMu sync.RWMutex
	subs   map[string]StatusSubscriber
	order  []string

	unsubscribeMetrics func()
}

// New builds one supervisor per known service
// New 为每个已知服务创建一个监管器
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := opts.Router
	if router == nil {
		router = logrouter.New(logrouter.Options{Logger: logger})
	}
	store := opts.Store
	if store == nil {
		store = config.NewStore(nil, "")
	}

	r := &Registry{
		store:       store,
		router:      router,
		metrics:     opts.Metrics,
		logger:      logger,
		supervisors: make(map[config.ServiceName]*supervisor.Supervisor),
		subs:        make(map[string]StatusSubscriber),
	}

	for _, name := range config.KnownServices() {
		name := name
		supOpts := supervisor.Options{
			Name:               name,
			Config:             func() (config.ServiceConfig, error) { return store.Get(name) },
			Args:               supervisor.ArgsFor(name),
			Router:             router,
			Checker:            opts.Checker,
			HealthPollInterval: opts.Timing.HealthPollInterval,
			MonitorInterval:    opts.Timing.MonitorInterval,
			StopTimeout:        opts.Timing.StopTimeout,
			RestartDelay:       opts.Timing.RestartDelay,
			OnStatus:           r.publish,
			LookupEnv:          opts.LookupEnv,
			Environ:            opts.Environ,
			Logger:             logger,
		}
		if r.metrics != nil {
			m := r.metrics
			supOpts.OnProbe = func(healthy bool) { m.ObserveProbe(string(name), healthy) }
		}
		r.supervisors[name] = supervisor.New(supOpts)
	}

	if r.metrics != nil {
		for _, sup := range r.supervisors {
			r.metrics.ObserveState(sup.State())
		}
		m := r.metrics
		r.unsubscribeMetrics = router.Subscribe(func(e logrouter.LogEntry) {
			m.ObserveLogLine(e.Source, string(e.Level))
		})
	}
	return r
}

func (r *Registry) lookup(name string) (*supervisor.Supervisor, error) {
	sup, ok := r.supervisors[config.ServiceName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownService, name)
	}
	return sup, nil
}

// publish fans one snapshot out to metrics and subscribers
func (r *Registry) publish(st supervisor.State) {
	if r.metrics != nil {
		r.metrics.ObserveState(st)
	}

	r.subsMu.RLock()
	fns := make([]StatusSubscriber, 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.subs[id])
	}
	r.subsMu.RUnlock()

	for _, fn := range fns {
		r.safeCall(fn, st)
	}
}

func (r *Registry) safeCall(fn StatusSubscriber, st supervisor.State) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Status subscriber panicked", zap.Any("panic", p), zap.String("service", string(st.Name)))
		}
	}()
	fn(st)
}

// Start starts one service and waits for its health gate
// Start 启动一个服务并等待其健康检查
func (r *Registry) Start(ctx context.Context, name string) error {
	sup, err := r.lookup(name)
	if err != nil {
		return err
	}
	return sup.Start(ctx)
}

// Stop stops one service
// Stop 停止一个服务
func (r *Registry) Stop(ctx context.Context, name string) error {
	sup, err := r.lookup(name)
	if err != nil {
		return err
	}
	return sup.Stop(ctx)
}

// Restart resets the restart counter and restarts one service
// Restart 重置重启计数并重启一个服务
func (r *Registry) Restart(ctx context.Context, name string) error {
	sup, err := r.lookup(name)
	if err != nil {
		return err
	}
	return sup.Restart(ctx)
}

// Status returns snapshots of every service in display order
// Status 按展示顺序返回所有服务的快照
func (r *Registry) Status() []supervisor.State {
	out := make([]supervisor.State, 0, len(r.supervisors))
	for _, name := range config.KnownServices() {
		out = append(out, r.supervisors[name].State())
	}
	return out
}

// StatusOf returns the snapshot of one service
func (r *Registry) StatusOf(name string) (supervisor.State, error) {
	sup, err := r.lookup(name)
	if err != nil {
		return supervisor.State{}, err
	}
	return sup.State(), nil
}

// Config returns the stored configuration of every service
func (r *Registry) Config() map[config.ServiceName]config.ServiceConfig {
	return r.store.All()
}

// ConfigOf returns the stored configuration of one service
func (r *Registry) ConfigOf(name string) (config.ServiceConfig, error) {
	return r.store.Get(config.ServiceName(name))
}

// UpdateConfig validates and stores a patch. A running service keeps its
// current configuration until it is restarted.
// UpdateConfig 验证并保存补丁，运行中的服务在重启前保持当前配置。
func (r *Registry) UpdateConfig(name string, patch config.ServicePatch) (config.ServiceConfig, error) {
	cfg, err := r.store.Update(config.ServiceName(name), patch)
	if err != nil {
		return config.ServiceConfig{}, err
	}
	r.logger.Info("Service config updated, takes effect on next start", zap.String("service", name))
	return cfg, nil
}

// Logs returns buffered entries of one source, or of all sources merged
// by time when source is empty.
// Logs 返回一个来源的缓冲日志，source 为空时返回按时间合并的所有来源日志。
func (r *Registry) Logs(source string) []logrouter.LogEntry {
	if source == "" {
		return r.router.All()
	}
	return r.router.Buffered(source)
}

// ClearLogs empties the in-memory buffer of one source
func (r *Registry) ClearLogs(source string) {
	r.router.Clear(source)
}

// LogSources lists the sources seen so far
func (r *Registry) LogSources() []string {
	return r.router.Sources()
}

// SubscribeStatus registers fn for every status snapshot and returns its
// unsubscribe function.
// SubscribeStatus 注册状态快照订阅并返回取消订阅函数。
func (r *Registry) SubscribeStatus(fn StatusSubscriber) func() {
	id := uuid.NewString()
	r.subsMu.Lock()
	r.subs[id] = fn
	r.order = append(r.order, id)
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			defer r.subsMu.Unlock()
			delete(r.subs, id)
			for i, v := range r.order {
				if v == id {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

// SubscribeLogs registers fn for every routed log entry
// SubscribeLogs 注册日志条目订阅
func (r *Registry) SubscribeLogs(fn logrouter.Subscriber) func() {
	return r.router.Subscribe(fn)
}

// StartEnabled starts every enabled service concurrently. All services are
// attempted; the first error is returned.
// StartEnabled 并发启动所有已启用的服务，全部尝试后返回第一个错误。
func (r *Registry) StartEnabled(ctx context.Context) error {
	var g errgroup.Group
	configs := r.store.All()
	names := make([]string, 0, len(configs))
	for name, cfg := range configs {
		if cfg.Enabled {
			names = append(names, string(name))
		}
	}
	sort.Strings(names)

	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := r.Start(ctx, name); err != nil {
				r.logger.Error("Failed to start service", zap.String("service", name), zap.Error(err))
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every service concurrently
// StopAll 并发停止所有服务
func (r *Registry) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, sup := range r.supervisors {
		sup := sup
		g.Go(func() error {
			return sup.Stop(ctx)
		})
	}
	return g.Wait()
}

// Close detaches the registry from the router. Services are not stopped.
func (r *Registry) Close() {
	if r.unsubscribeMetrics != nil {
		r.unsubscribeMetrics()
		r.unsubscribeMetrics = nil
	}
}
