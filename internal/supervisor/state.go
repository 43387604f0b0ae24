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

package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/seatunnel/seatunnelX/svcd/internal/config"
)

// Errors returned by the control operations
// 控制操作返回的错误
var (
	// ErrServiceDisabled indicates start was requested for a disabled service
	// ErrServiceDisabled 表示请求启动一个已禁用的服务
	ErrServiceDisabled = errors.New("service is disabled")

	// ErrSpawnFailed indicates the child could not be launched
	// ErrSpawnFailed 表示子进程无法启动
	ErrSpawnFailed = errors.New("failed to spawn service")

	// ErrHealthCheckFailed indicates the child never became healthy
	// ErrHealthCheckFailed 表示子进程始终未变为健康
	ErrHealthCheckFailed = errors.New("health check failed")

	// ErrStartAborted indicates a stop interrupted the start
	// ErrStartAborted 表示启动被停止操作打断
	ErrStartAborted = errors.New("start aborted")

	// ErrAlreadyStarting indicates a start is already in progress
	// ErrAlreadyStarting 表示已有启动在进行中
	ErrAlreadyStarting = errors.New("service is already starting")
)

// Last-error texts shown in the status snapshot
// 状态快照中展示的最后错误文本
const (
	MsgHealthCheckFailed   = "Health check failed after startup"
	MsgMaxRestartsExceeded = "Max restarts exceeded"
)

// exitError is the last error of a child that exited on its own
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("Process exited unexpectedly (code %d)", e.code)
}

// errStopRequested cancels the startup gate when a stop arrives
var errStopRequested = errors.New("stop requested")

// Status is the lifecycle status of a service
// Status 是服务的生命周期状态
type Status string

const (
	// StatusStopped is the initial state / 初始状态
	StatusStopped Status = "stopped"
	// StatusStarting means spawned and waiting for the health gate / 已启动，等待健康检查
	StatusStarting Status = "starting"
	// StatusRunning means healthy / 健康运行中
	StatusRunning Status = "running"
	// StatusDegraded means running but the last probe failed / 运行中但最近一次探测失败
	StatusDegraded Status = "degraded"
	// StatusError means failed; see LastError / 失败，详见 LastError
	StatusError Status = "error"
)

// HasProcess reports whether a child process exists in this status
// HasProcess 返回该状态下是否存在子进程
func (s Status) HasProcess() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusDegraded
}

// State is a snapshot of one service
// State 是一个服务的状态快照
type State struct {
	Name         config.ServiceName `json:"name"`
	Status       Status             `json:"status"`
	PID          int                `json:"pid,omitempty"`
	RestartCount int                `json:"restart_count"`
	LastError    string             `json:"last_error,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	Port         int                `json:"port,omitempty"`
	BaseURL      string             `json:"base_url,omitempty"`
}

// clone returns a copy that shares nothing with s
func (s State) clone() State {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	return out
}
