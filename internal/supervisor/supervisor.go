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

// Package supervisor drives one external service through its lifecycle:
// spawn, startup health gate, steady-state monitoring, bounded crash recovery
// and graceful-then-forced shutdown.
// supervisor 包驱动一个外部服务的完整生命周期：启动、启动健康检查、稳态监控、
// 有上限的崩溃恢复以及先优雅后强制的停止。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/health"
	"github.com/seatunnel/seatunnelX/svcd/internal/logrouter"
	"github.com/seatunnel/seatunnelX/svcd/internal/monitor"
	"github.com/seatunnel/seatunnelX/svcd/internal/process"
	"github.com/seatunnel/seatunnelX/svcd/internal/restart"
	"go.uber.org/zap"
)

// Default timings
// 默认时间参数
const (
	DefaultHealthPollInterval = 500 * time.Millisecond
	DefaultMonitorInterval    = monitor.DefaultMonitorInterval
	DefaultStopTimeout        = 5 * time.Second
	DefaultRestartDelay       = restart.DefaultRestartDelay
)

// ConfigFunc returns the configuration for the next start
// ConfigFunc 返回下一次启动使用的配置
type ConfigFunc func() (config.ServiceConfig, error)

// StatusListener receives every snapshot, synchronously and in transition
// order. It must not call back into the supervisor's control methods.
// StatusListener 同步且按转换顺序接收每个快照，不能回调监管器的控制方法。
type StatusListener func(State)

// Options configures a Supervisor
// Options 配置 Supervisor
type Options struct {
	Name   config.ServiceName
	Config ConfigFunc
	Args   ArgsFunc

	// Router receives stdout and stderr; nil discards output
	// Router 接收标准输出和标准错误，为 nil 则丢弃
	Router  *logrouter.Router
	Checker health.Checker

	HealthPollInterval time.Duration
	MonitorInterval    time.Duration
	StopTimeout        time.Duration
	RestartDelay       time.Duration

	OnStatus StatusListener
	// OnProbe observes every steady-state probe result
	// OnProbe 观察每次稳态探测结果
	OnProbe func(healthy bool)

	LookupEnv LookupEnvFunc
	Environ   func() []string
	Logger    *zap.Logger
}

// Supervisor owns the lifecycle of one service
// Supervisor 管理一个服务的生命周期
type Supervisor struct {
	opts      Options
	logger    *zap.Logger
	restarter *restart.Restarter

	// opMu serializes spawn and stop; the health gate runs outside it
	opMu sync.Mutex

	mu           sync.Mutex
	state        State
	gen          uint64
	proc         *process.Process
	active       config.ServiceConfig
	gateCancel   context.CancelCauseFunc
	monitor      *monitor.HealthMonitor
	shuttingDown bool

	// dying is a child detached by a failed gate that is still terminating
	dying *process.Process

	// emitMu is taken before mu is released so snapshots go out in order
	emitMu sync.Mutex
}

// New creates a Supervisor in status stopped
// New 创建一个处于 stopped 状态的 Supervisor
func New(opts Options) *Supervisor {
	if opts.HealthPollInterval <= 0 {
		opts.HealthPollInterval = DefaultHealthPollInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.Checker == nil {
		opts.Checker = health.NewProbe(health.DefaultTimeout)
	}
	if opts.Args == nil {
		opts.Args = ArgsFor(opts.Name)
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Supervisor{
		opts:      opts,
		logger:    logger.With(zap.String("service", string(opts.Name))),
		restarter: restart.New(opts.RestartDelay),
		state:     State{Name: opts.Name, Status: StatusStopped},
	}
}

// Name returns the service name
func (s *Supervisor) Name() config.ServiceName {
	return s.opts.Name
}

// State returns a copy of the current snapshot
// State 返回当前快照的副本
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() State {
	st := s.state.clone()
	st.RestartCount = s.restarter.Count()
	return st
}

// unlockAndPublish releases s.mu and delivers the snapshot taken under it
func (s *Supervisor) unlockAndPublish() {
	snap := s.snapshotLocked()
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(snap)
	}
}

// Start spawns the service and waits for the startup health gate.
// It returns nil once the service is running, or when it already was.
// If ctx ends first Start returns ctx.Err() and the gate keeps going.
// Start 启动服务并等待启动健康检查，服务运行后返回 nil（已在运行时同样返回 nil）。
// 如果 ctx 先结束则返回 ctx.Err()，健康检查继续进行。
func (s *Supervisor) Start(ctx context.Context) error {
	s.restarter.Cancel()
	return s.start(ctx, nil)
}

// start is shared by Start and crash recovery. expectGen, when set, aborts
// the start if a stop or another start happened since recovery was scheduled.
func (s *Supervisor) start(ctx context.Context, expectGen *uint64) error {
	s.opMu.Lock()

	cfg, err := s.opts.Config()
	if err != nil {
		s.opMu.Unlock()
		return err
	}
	if !cfg.Enabled {
		s.opMu.Unlock()
		return ErrServiceDisabled
	}
	if err := cfg.Validate(); err != nil {
		s.opMu.Unlock()
		return err
	}

	// A replacement never runs alongside the child it replaces
	s.mu.Lock()
	dying := s.dying
	s.mu.Unlock()
	if dying != nil {
		select {
		case <-dying.Done():
		case <-ctx.Done():
			s.opMu.Unlock()
			return ctx.Err()
		}
	}

	s.mu.Lock()
	if expectGen != nil && (s.gen != *expectGen || s.shuttingDown) {
		s.mu.Unlock()
		s.opMu.Unlock()
		return ErrStartAborted
	}
	switch s.state.Status {
	case StatusRunning, StatusDegraded:
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil
	case StatusStarting:
		s.mu.Unlock()
		s.opMu.Unlock()
		return ErrAlreadyStarting
	}

	s.shuttingDown = false
	s.gen++
	gen := s.gen
	s.active = cfg

	endpoint := ResolveEndpoint(s.opts.Name, cfg, s.opts.LookupEnv)
	overrides := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		overrides[k] = v
	}
	overrides["PORT"] = fmt.Sprint(endpoint.Port)

	spec := process.Spec{
		Name:    string(s.opts.Name),
		Command: cfg.Command,
		Args:    LaunchArgs(s.opts.Args, cfg.Args, endpoint.Port),
		Env:     process.BuildEnv(s.opts.Environ(), overrides),
		Dir:     cfg.WorkDir,
	}

	var stdout, stderr *logrouter.LineWriter
	if s.opts.Router != nil {
		stdout = s.opts.Router.Writer(string(s.opts.Name), false)
		stderr = s.opts.Router.Writer(string(s.opts.Name), true)
	}
	proc, err := startProcess(spec, stdout, stderr)
	if err != nil {
		s.logger.Error("Failed to spawn service", zap.String("command", cfg.Command), zap.Error(err))
		s.state.Status = StatusError
		s.state.PID = 0
		s.state.LastError = err.Error()
		s.unlockAndPublish()
		s.opMu.Unlock()
		s.recover(gen)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	now := time.Now()
	s.proc = proc
	s.state.Status = StatusStarting
	s.state.PID = proc.PID()
	s.state.StartedAt = &now
	s.state.Port = endpoint.Port
	s.state.BaseURL = endpoint.BaseURL

	gateCtx, cancel := context.WithCancelCause(context.Background())
	s.gateCancel = cancel
	result := make(chan error, 1)

	s.logger.Info("Service spawned",
		zap.Int("pid", proc.PID()),
		zap.Strings("args", spec.Args),
		zap.String("health_url", endpoint.HealthURL))
	s.unlockAndPublish()
	s.opMu.Unlock()

	go s.watchExit(gen, proc)
	go s.runGate(gateCtx, gen, proc, endpoint.HealthURL, cfg.StartupTimeout(), result)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startProcess keeps nil *LineWriter values from becoming non-nil io.Writers
func startProcess(spec process.Spec, stdout, stderr *logrouter.LineWriter) (*process.Process, error) {
	if stdout == nil {
		return process.Start(spec, nil, nil)
	}
	return process.Start(spec, stdout, stderr)
}

// runGate polls the health endpoint until healthy, timeout, exit or stop
func (s *Supervisor) runGate(ctx context.Context, gen uint64, proc *process.Process, url string, timeout time.Duration, result chan<- error) {
	healthy := health.WaitHealthy(ctx, s.opts.Checker, url, s.opts.HealthPollInterval, timeout)

	s.mu.Lock()
	if gen != s.gen || s.state.Status != StatusStarting {
		s.mu.Unlock()
		result <- ErrStartAborted
		return
	}
	s.gateCancel = nil

	// An exit observed during the gate wins over a probe that raced it
	var exitErr *exitError
	if errors.As(context.Cause(ctx), &exitErr) {
		s.logger.Warn("Service exited during startup", zap.Int("exit_code", exitErr.code))
		s.failLocked(exitErr.Error())
		s.unlockAndPublish()
		s.recover(gen + 1)
		result <- fmt.Errorf("%w: %s", ErrHealthCheckFailed, exitErr.Error())
		return
	}

	if healthy {
		s.state.Status = StatusRunning
		s.state.LastError = ""
		mon := monitor.NewHealthMonitor(s.opts.Checker, url, s.opts.MonitorInterval, func(ok bool) {
			s.onProbe(gen, ok)
		})
		s.monitor = mon
		mon.Start(context.Background())
		s.logger.Info("Service is healthy", zap.Int("pid", proc.PID()))
		s.unlockAndPublish()
		result <- nil
		return
	}

	s.logger.Warn("Service did not become healthy in time", zap.Duration("timeout", timeout))
	s.failLocked(MsgHealthCheckFailed)
	s.dying = proc
	s.unlockAndPublish()
	s.recover(gen + 1)
	result <- fmt.Errorf("%w: %s", ErrHealthCheckFailed, MsgHealthCheckFailed)

	proc.Stop(s.opts.StopTimeout)
	s.mu.Lock()
	if s.dying == proc {
		s.dying = nil
	}
	s.mu.Unlock()
}

// failLocked moves to error and detaches the current child. Caller holds s.mu.
func (s *Supervisor) failLocked(reason string) {
	s.gen++
	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
	if s.gateCancel != nil {
		s.gateCancel(errStopRequested)
		s.gateCancel = nil
	}
	s.proc = nil
	s.state.Status = StatusError
	s.state.PID = 0
	s.state.LastError = reason
}

// watchExit turns an exit of the current child into a state transition
func (s *Supervisor) watchExit(gen uint64, proc *process.Process) {
	<-proc.Done()
	code := proc.ExitCode()

	s.mu.Lock()
	if gen != s.gen || s.shuttingDown || s.proc != proc {
		s.mu.Unlock()
		return
	}

	switch s.state.Status {
	case StatusStarting:
		// The gate goroutine owns the transition
		if s.gateCancel != nil {
			s.gateCancel(&exitError{code: code})
		}
		s.mu.Unlock()
	case StatusRunning, StatusDegraded:
		s.logger.Error("Service exited unexpectedly", zap.Int("exit_code", code), zap.Error(proc.Err()))
		s.failLocked((&exitError{code: code}).Error())
		s.unlockAndPublish()
		s.recover(gen + 1)
	default:
		s.mu.Unlock()
	}
}

// recover runs crash recovery for the failure that left the supervisor at gen
func (s *Supervisor) recover(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.shuttingDown || s.state.Status != StatusError {
		s.mu.Unlock()
		return
	}

	policy := restart.Policy{Enabled: s.active.RestartOnCrash, MaxRestarts: s.active.MaxRestarts}
	decision := s.restarter.Schedule(policy, func() {
		expect := gen
		if err := s.start(context.Background(), &expect); err != nil && !errors.Is(err, ErrStartAborted) {
			s.logger.Warn("Automatic restart failed", zap.Error(err))
		}
	})

	switch decision {
	case restart.Scheduled:
		s.logger.Info("Scheduled automatic restart",
			zap.Int("attempt", s.restarter.Count()),
			zap.Int("max_restarts", policy.MaxRestarts),
			zap.Duration("delay", s.opts.RestartDelay))
		s.unlockAndPublish()
	case restart.Exhausted:
		s.logger.Error("Max restarts exceeded", zap.Int("max_restarts", policy.MaxRestarts))
		s.state.LastError = MsgMaxRestartsExceeded
		s.unlockAndPublish()
	default:
		s.mu.Unlock()
	}
}

// onProbe applies one steady-state probe result
func (s *Supervisor) onProbe(gen uint64, healthy bool) {
	if s.opts.OnProbe != nil {
		s.opts.OnProbe(healthy)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	switch {
	case !healthy && s.state.Status == StatusRunning:
		s.logger.Warn("Health probe failed, service degraded")
		s.state.Status = StatusDegraded
	case healthy && s.state.Status == StatusDegraded:
		s.logger.Info("Health probe recovered")
		s.state.Status = StatusRunning
	default:
		s.mu.Unlock()
		return
	}
	s.unlockAndPublish()
}

// Stop cancels the gate, monitoring and any pending restart, then sends
// SIGTERM and, after the stop timeout, SIGKILL. It always ends in stopped.
// A ctx deadline shorter than the stop timeout shortens the graceful wait.
// Stop 取消健康检查、监控和待执行的重启，然后发送 SIGTERM，超时后发送 SIGKILL，最终总是进入 stopped。
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.shuttingDown = true
	s.gen++
	s.restarter.Cancel()
	if s.gateCancel != nil {
		s.gateCancel(errStopRequested)
		s.gateCancel = nil
	}
	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
	proc, dying := s.proc, s.dying
	s.mu.Unlock()

	timeout := s.opts.StopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = max(remaining, 0)
		}
	}
	for _, p := range []*process.Process{proc, dying} {
		if p == nil {
			continue
		}
		if forced := p.Stop(timeout); forced {
			s.logger.Warn("Service ignored SIGTERM, killed", zap.Int("pid", p.PID()))
		} else {
			s.logger.Info("Service stopped", zap.Int("pid", p.PID()))
		}
	}

	s.mu.Lock()
	changed := s.state.Status != StatusStopped || s.state.PID != 0
	s.proc = nil
	if s.dying == dying {
		s.dying = nil
	}
	s.state.Status = StatusStopped
	s.state.PID = 0
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.unlockAndPublish()
	return nil
}

// Restart resets the restart counter, then stops and starts the service
// Restart 重置重启计数，然后停止并启动服务
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restarter.Reset()
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}
