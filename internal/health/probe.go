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

// Package health provides the HTTP health probe for supervised services.
// health 包提供被托管服务的 HTTP 健康探测。
package health

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one probe
// DefaultTimeout 限制单次探测的时长
const DefaultTimeout = 5 * time.Second

// Checker performs one health check. It never returns an error; any failure
// is reported as unhealthy.
// Checker 执行一次健康检查，不返回错误，任何失败都视为不健康。
type Checker interface {
	Check(ctx context.Context, url string) bool
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context, url string) bool

// Check implements Checker
func (f CheckerFunc) Check(ctx context.Context, url string) bool { return f(ctx, url) }

// Probe issues GET requests and treats any 2xx status as healthy
// Probe 发起 GET 请求，任何 2xx 状态码视为健康
type Probe struct {
	client  *http.Client
	timeout time.Duration
}

// NewProbe creates a Probe; a non-positive timeout uses DefaultTimeout
// NewProbe 创建 Probe，非正超时使用 DefaultTimeout
func NewProbe(timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Probe{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Check implements Checker
func (p *Probe) Check(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitHealthy polls checker every interval until it reports healthy, the
// timeout elapses or ctx is cancelled. Probes never outlive the deadline.
// WaitHealthy 按间隔轮询直到健康、超时或 ctx 被取消，探测不会超过截止时间。
func WaitHealthy(ctx context.Context, checker Checker, url string, interval, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if checker.Check(ctx, url) {
			// A probe that raced the deadline does not count
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
