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
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/seatunnel/seatunnelX/svcd/internal/config"
)

// ArgsFunc turns the configured arguments into the launch arguments of one
// spawn. It must return a new slice and leave its input untouched.
// ArgsFunc 将配置的参数转换为一次启动的参数，必须返回新切片且不修改输入。
type ArgsFunc func(base []string) []string

// PassThrough returns a copy of the configured arguments
// PassThrough 返回配置参数的副本
func PassThrough(base []string) []string {
	out := make([]string, len(base))
	copy(out, base)
	return out
}

// DefaultSubcommand injects token as the first argument when no arguments
// are configured. Arguments that already start with token pass through.
// DefaultSubcommand 在未配置参数时注入 token 作为第一个参数，已以 token 开头的参数原样传递。
func DefaultSubcommand(token string) ArgsFunc {
	return func(base []string) []string {
		if len(base) == 0 {
			return []string{token}
		}
		return PassThrough(base)
	}
}

// ArgsFor returns the argument strategy of a known service
// ArgsFor 返回已知服务的参数策略
func ArgsFor(name config.ServiceName) ArgsFunc {
	switch name {
	case config.ServiceCodingAgent:
		return DefaultSubcommand("serve")
	case config.ServiceMessagingGateway:
		return DefaultSubcommand("run")
	default:
		return PassThrough
	}
}

// LookupEnvFunc matches os.LookupEnv
type LookupEnvFunc func(key string) (string, bool)

// Endpoint is the resolved network location of one start attempt
// Endpoint 是一次启动尝试解析出的网络地址
type Endpoint struct {
	Port      int
	BaseURL   string
	HealthURL string
}

// ResolveEndpoint applies the <SERVICE>_PORT and <SERVICE>_URL overrides.
// Without a URL override the base URL is the configured one, or
// http://127.0.0.1:<port> when none is configured or the port was overridden.
// ResolveEndpoint 应用 <SERVICE>_PORT 和 <SERVICE>_URL 覆盖。
func ResolveEndpoint(name config.ServiceName, cfg config.ServiceConfig, lookup LookupEnvFunc) Endpoint {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	port := cfg.Port
	portOverridden := false
	if v, ok := lookup(name.PortEnvVar()); ok {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && p > 0 && p <= 65535 {
			port = p
			portOverridden = true
		}
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if v, ok := lookup(name.URLEnvVar()); ok && strings.TrimSpace(v) != "" {
		baseURL = strings.TrimSpace(v)
	} else if baseURL == "" || portOverridden {
		baseURL = "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return Endpoint{
		Port:      port,
		BaseURL:   baseURL,
		HealthURL: baseURL + cfg.HealthEndpoint,
	}
}

// LaunchArgs applies the strategy and appends the port flag
// LaunchArgs 应用参数策略并追加端口参数
func LaunchArgs(args ArgsFunc, base []string, port int) []string {
	if args == nil {
		args = PassThrough
	}
	out := args(base)
	final := make([]string, 0, len(out)+2)
	final = append(final, out...)
	return append(final, "--port", strconv.Itoa(port))
}
