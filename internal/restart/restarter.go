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

// Package restart provides bounded crash recovery for one supervised service.
// restart 包为单个被托管服务提供有上限的崩溃恢复。
//
// This package provides:
// 此包提供：
// - A fixed delay before every automatic restart / 每次自动重启前的固定延迟
// - Restart count limiting / 重启次数限制
// - At most one pending restart at a time / 同一时间最多一个待执行的重启
package restart

import (
	"sync"
	"time"
)

// DefaultRestartDelay is the fixed delay before an automatic restart
// DefaultRestartDelay 是自动重启前的固定延迟
const DefaultRestartDelay = 2 * time.Second

// Policy is the per-attempt restart configuration
// Policy 是每次尝试时的重启配置
type Policy struct {
	Enabled     bool `json:"enabled"`      // 是否启用自动重启 / Enable auto restart
	MaxRestarts int  `json:"max_restarts"` // 最大重启次数 / Max restart count
}

// Decision is the outcome of Schedule
// Decision 是 Schedule 的结果
type Decision int

const (
	// Disabled means automatic restart is off / 自动重启已关闭
	Disabled Decision = iota
	// Exhausted means the restart limit was reached / 已达重启上限
	Exhausted
	// Scheduled means a restart will run after the delay / 将在延迟后重启
	Scheduled
	// Pending means a restart is already waiting / 已有重启在等待
	Pending
)

func (d Decision) String() string {
	switch d {
	case Disabled:
		return "disabled"
	case Exhausted:
		return "exhausted"
	case Scheduled:
		return "scheduled"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Restarter counts automatic restarts and runs at most one delayed restart at a time
// Restarter 统计自动重启次数，同一时间最多执行一个延迟重启
type Restarter struct {
	delay time.Duration

	mu          sync.Mutex
	count       int
	timer       *time.Timer
	pendingID   uint64
	lastRestart time.Time
}

// New creates a Restarter; a delay that is not positive means DefaultRestartDelay
// New 创建 Restarter，非正延迟使用 DefaultRestartDelay
func New(delay time.Duration) *Restarter {
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	return &Restarter{delay: delay}
}

// Schedule decides whether to restart and, if so, calls fn after the delay.
// The counter is incremented when the restart is scheduled.
// Schedule 决定是否重启，如需重启则在延迟后调用 fn，计数在调度时递增。
func (r *Restarter) Schedule(policy Policy, fn func()) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !policy.Enabled {
		return Disabled
	}
	if r.timer != nil {
		return Pending
	}
	if r.count >= policy.MaxRestarts {
		return Exhausted
	}

	r.count++
	r.lastRestart = time.Now()
	r.pendingID++
	id := r.pendingID
	r.timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.pendingID != id || r.timer == nil {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		fn()
	})
	return Scheduled
}

// Cancel drops a pending restart and reports whether one was pending.
// The counter keeps the cancelled attempt; only Reset clears it.
// Cancel 取消待执行的重启并返回是否存在待执行的重启，计数保留，只有 Reset 会清零。
func (r *Restarter) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked()
}

func (r *Restarter) cancelLocked() bool {
	if r.timer == nil {
		return false
	}
	r.timer.Stop()
	r.timer = nil
	r.pendingID++
	return true
}

// Reset cancels any pending restart and sets the counter to zero
// Reset 取消待执行的重启并将计数清零
func (r *Restarter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
	r.count = 0
}

// Count returns the number of automatic restarts in this supervision episode
// Count 返回本轮托管中的自动重启次数
func (r *Restarter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// IsPending reports whether a restart is waiting for its delay
// IsPending 返回是否有重启在等待延迟
func (r *Restarter) IsPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// LastRestart returns when the last restart was scheduled
// LastRestart 返回最近一次重启的调度时间
func (r *Restarter) LastRestart() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRestart
}
