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

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownService indicates a service name outside the supervised set
	// ErrUnknownService 表示服务名不在托管集合内
	ErrUnknownService = errors.New("unknown service")

	// ErrInvalidConfig indicates a service configuration that violates its invariants
	// ErrInvalidConfig 表示服务配置违反约束
	ErrInvalidConfig = errors.New("invalid service config")
)

// ServiceName identifies one supervised service
// ServiceName 标识一个被托管的服务
type ServiceName string

const (
	// ServiceCodingAgent is the coding-agent backend / 编码代理后端
	ServiceCodingAgent ServiceName = "coding-agent"

	// ServiceMessagingGateway is the messaging-gateway backend / 消息网关后端
	ServiceMessagingGateway ServiceName = "messaging-gateway"

	// SourceApp is the log source of the hosting daemon itself / 宿主守护进程自身的日志来源
	SourceApp = "app"
)

// KnownServices returns the fixed set of supervised services in display order
// KnownServices 按展示顺序返回固定的托管服务集合
func KnownServices() []ServiceName {
	return []ServiceName{ServiceCodingAgent, ServiceMessagingGateway}
}

// IsKnownService reports whether name belongs to the supervised set
// IsKnownService 判断名称是否属于托管集合
func IsKnownService(name string) bool {
	for _, known := range KnownServices() {
		if string(known) == name {
			return true
		}
	}
	return false
}

// EnvPrefix returns the environment variable prefix for runtime overrides,
// e.g. CODING_AGENT for coding-agent.
// EnvPrefix 返回运行时覆盖所用的环境变量前缀。
func (n ServiceName) EnvPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(string(n), "-", "_"))
}

// PortEnvVar returns the variable that overrides the configured port
// PortEnvVar 返回覆盖配置端口的环境变量名
func (n ServiceName) PortEnvVar() string {
	return n.EnvPrefix() + "_PORT"
}

// URLEnvVar returns the variable that overrides the configured base URL
// URLEnvVar 返回覆盖配置基础 URL 的环境变量名
func (n ServiceName) URLEnvVar() string {
	return n.EnvPrefix() + "_URL"
}

// ServiceConfig describes how one service is launched and checked
// ServiceConfig 描述一个服务如何启动和检查
type ServiceConfig struct {
	Enabled          bool              `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Port             int               `mapstructure:"port" json:"port" yaml:"port"`
	BaseURL          string            `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	HealthEndpoint   string            `mapstructure:"health_endpoint" json:"health_endpoint" yaml:"health_endpoint"`
	StartupTimeoutMs int               `mapstructure:"startup_timeout_ms" json:"startup_timeout_ms" yaml:"startup_timeout_ms"`
	RestartOnCrash   bool              `mapstructure:"restart_on_crash" json:"restart_on_crash" yaml:"restart_on_crash"`
	MaxRestarts      int               `mapstructure:"max_restarts" json:"max_restarts" yaml:"max_restarts"`
	Command          string            `mapstructure:"command" json:"command" yaml:"command"`
	Args             []string          `mapstructure:"args" json:"args" yaml:"args"`
	Env              map[string]string `mapstructure:"env" json:"env,omitempty" yaml:"env,omitempty"`
	WorkDir          string            `mapstructure:"work_dir" json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// DefaultServiceConfig returns the built-in defaults for a known service.
// Services are disabled until a command is configured.
// DefaultServiceConfig 返回已知服务的内置默认配置，在配置命令之前服务处于禁用状态。
func DefaultServiceConfig(name ServiceName) ServiceConfig {
	cfg := ServiceConfig{
		Enabled:          false,
		HealthEndpoint:   "/health",
		StartupTimeoutMs: 30000,
		RestartOnCrash:   true,
		MaxRestarts:      3,
	}
	switch name {
	case ServiceCodingAgent:
		cfg.Port = 4096
		cfg.Command = "opencode"
	case ServiceMessagingGateway:
		cfg.Port = 18789
		cfg.Command = "gateway"
	}
	return cfg
}

// StartupTimeout returns the startup timeout as a duration
// StartupTimeout 以时长形式返回启动超时
func (c ServiceConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutMs) * time.Millisecond
}

// Validate checks the service invariants
// Validate 检查服务配置约束
func (c ServiceConfig) Validate() error {
	if c.MaxRestarts < 0 {
		return fmt.Errorf("%w: max_restarts must be >= 0", ErrInvalidConfig)
	}
	if c.StartupTimeoutMs <= 0 {
		return fmt.Errorf("%w: startup_timeout_ms must be > 0", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if !strings.HasPrefix(c.HealthEndpoint, "/") {
		return fmt.Errorf("%w: health_endpoint must start with /", ErrInvalidConfig)
	}
	if c.Enabled && strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: command is required when enabled", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy so callers never share slices or maps
// Clone 返回深拷贝，调用方之间不共享切片或 map
func (c ServiceConfig) Clone() ServiceConfig {
	out := c
	if c.Args != nil {
		out.Args = make([]string, len(c.Args))
		copy(out.Args, c.Args)
	}
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}

// ServicePatch is a partial ServiceConfig; nil fields are left unchanged
// ServicePatch 是部分 ServiceConfig，nil 字段保持不变
type ServicePatch struct {
	Enabled          *bool             `json:"enabled,omitempty"`
	Port             *int              `json:"port,omitempty"`
	BaseURL          *string           `json:"base_url,omitempty"`
	HealthEndpoint   *string           `json:"health_endpoint,omitempty"`
	StartupTimeoutMs *int              `json:"startup_timeout_ms,omitempty"`
	RestartOnCrash   *bool             `json:"restart_on_crash,omitempty"`
	MaxRestarts      *int              `json:"max_restarts,omitempty"`
	Command          *string           `json:"command,omitempty"`
	Args             []string          `json:"args,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	WorkDir          *string           `json:"work_dir,omitempty"`
}

// Apply returns a copy of cfg with the patch applied
// Apply 返回应用补丁后的配置副本
func (p ServicePatch) Apply(cfg ServiceConfig) ServiceConfig {
	out := cfg.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Port != nil {
		out.Port = *p.Port
	}
	if p.BaseURL != nil {
		out.BaseURL = *p.BaseURL
	}
	if p.HealthEndpoint != nil {
		out.HealthEndpoint = *p.HealthEndpoint
	}
	if p.StartupTimeoutMs != nil {
		out.StartupTimeoutMs = *p.StartupTimeoutMs
	}
	if p.RestartOnCrash != nil {
		out.RestartOnCrash = *p.RestartOnCrash
	}
	if p.MaxRestarts != nil {
		out.MaxRestarts = *p.MaxRestarts
	}
	if p.Command != nil {
		out.Command = *p.Command
	}
	if p.Args != nil {
		out.Args = make([]string, len(p.Args))
		copy(out.Args, p.Args)
	}
	if p.Env != nil {
		out.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			out.Env[k] = v
		}
	}
	if p.WorkDir != nil {
		out.WorkDir = *p.WorkDir
	}
	return out
}
