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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig tests configuration loading
// TestLoadConfig 测试配置加载
func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: debug
  file: /tmp/svcd.log
  max_size: 50

router:
  log_dir: /tmp/svcd/services
  max_buffer_lines: 200

supervisor:
  health_poll_interval: 250ms
  monitor_interval: 10s

services:
  coding-agent:
    enabled: true
    port: 5000
    command: /usr/local/bin/opencode
    args: ["serve", "--verbose"]
    startup_timeout_ms: 2000
    max_restarts: 5
    restart_on_crash: true
    health_endpoint: /healthz
    env:
      OPENCODE_HOME: /srv/opencode
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/svcd.log", cfg.Log.File)
	assert.Equal(t, 50, cfg.Log.MaxSize)
	assert.Equal(t, "/tmp/svcd/services", cfg.Router.LogDir)
	assert.Equal(t, 200, cfg.Router.MaxBufferLines)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.HealthPollInterval)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.MonitorInterval)
	assert.Equal(t, DefaultStopTimeout, cfg.Supervisor.StopTimeout)

	agent := cfg.Services[string(ServiceCodingAgent)]
	assert.True(t, agent.Enabled)
	assert.Equal(t, 5000, agent.Port)
	assert.Equal(t, "/usr/local/bin/opencode", agent.Command)
	assert.Equal(t, []string{"serve", "--verbose"}, agent.Args)
	assert.Equal(t, 2000, agent.StartupTimeoutMs)
	assert.Equal(t, 5, agent.MaxRestarts)
	assert.Equal(t, "/healthz", agent.HealthEndpoint)
	// Env keys keep their case / 环境变量键保持大小写
	assert.Equal(t, map[string]string{"OPENCODE_HOME": "/srv/opencode"}, agent.Env)

	// Services missing from the file get defaults / 文件中缺失的服务使用默认值
	gateway := cfg.Services[string(ServiceMessagingGateway)]
	assert.Equal(t, DefaultServiceConfig(ServiceMessagingGateway), gateway)

	require.NoError(t, cfg.Validate())
}

// TestLoadConfigDefaults tests default configuration values
// TestLoadConfigDefaults 测试默认配置值
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFile, cfg.Log.File)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, DefaultServiceLogDir, cfg.Router.LogDir)
	assert.Equal(t, DefaultMaxBufferLines, cfg.Router.MaxBufferLines)
	assert.Equal(t, DefaultHealthPollInterval, cfg.Supervisor.HealthPollInterval)
	assert.Equal(t, DefaultMonitorInterval, cfg.Supervisor.MonitorInterval)
	assert.Equal(t, DefaultStopTimeout, cfg.Supervisor.StopTimeout)
	assert.Equal(t, DefaultRestartDelay, cfg.Supervisor.RestartDelay)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.False(t, cfg.History.Enabled)
	assert.Len(t, cfg.Services, len(KnownServices()))
	require.NoError(t, cfg.Validate())
}

// TestLoadConfigEnvOverride tests SVCD_* environment overrides
// TestLoadConfigEnvOverride 测试 SVCD_* 环境变量覆盖
func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SVCD_LOG_LEVEL", "warn")
	t.Setenv("SVCD_API_LISTEN", "0.0.0.0:9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:9999", cfg.API.Listen)
}

// TestValidateConfig tests configuration validation
// TestValidateConfig 测试配置验证
func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadFromYAML([]byte("log:\n  level: info\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "zero buffer", mutate: func(c *Config) { c.Router.MaxBufferLines = 0 }},
		{name: "zero poll interval", mutate: func(c *Config) { c.Supervisor.HealthPollInterval = 0 }},
		{name: "zero stop timeout", mutate: func(c *Config) { c.Supervisor.StopTimeout = 0 }},
		{name: "negative restart delay", mutate: func(c *Config) { c.Supervisor.RestartDelay = -time.Second }},
		{name: "zero restart delay", mutate: func(c *Config) { c.Supervisor.RestartDelay = 0 }},
		{name: "api without listen", mutate: func(c *Config) { c.API.Listen = "" }},
		{name: "bad history type", mutate: func(c *Config) {
			c.History.Enabled = true
			c.History.Type = "oracle"
		}},
		{name: "mysql without dsn", mutate: func(c *Config) {
			c.History.Enabled = true
			c.History.Type = "mysql"
		}},
		{name: "unknown service", wantErr: ErrUnknownService, mutate: func(c *Config) {
			c.Services["browser"] = DefaultServiceConfig(ServiceCodingAgent)
		}},
		{name: "negative max restarts", wantErr: ErrInvalidConfig, mutate: func(c *Config) {
			svc := c.Services[string(ServiceCodingAgent)]
			svc.MaxRestarts = -1
			c.Services[string(ServiceCodingAgent)] = svc
		}},
		{name: "zero startup timeout", wantErr: ErrInvalidConfig, mutate: func(c *Config) {
			svc := c.Services[string(ServiceMessagingGateway)]
			svc.StartupTimeoutMs = 0
			c.Services[string(ServiceMessagingGateway)] = svc
		}},
		{name: "enabled without command", wantErr: ErrInvalidConfig, mutate: func(c *Config) {
			svc := c.Services[string(ServiceCodingAgent)]
			svc.Enabled = true
			svc.Command = " "
			c.Services[string(ServiceCodingAgent)] = svc
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.name == "valid" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

// TestEnvVarNames tests the per-service override variable names
// TestEnvVarNames 测试每个服务的覆盖环境变量名
func TestEnvVarNames(t *testing.T) {
	assert.Equal(t, "CODING_AGENT_PORT", ServiceCodingAgent.PortEnvVar())
	assert.Equal(t, "CODING_AGENT_URL", ServiceCodingAgent.URLEnvVar())
	assert.Equal(t, "MESSAGING_GATEWAY_PORT", ServiceMessagingGateway.PortEnvVar())
	assert.Equal(t, "MESSAGING_GATEWAY_URL", ServiceMessagingGateway.URLEnvVar())
	assert.True(t, IsKnownService("coding-agent"))
	assert.False(t, IsKnownService(SourceApp))
}

// TestConfigToYAML tests that a written config loads back
// TestConfigToYAML 测试写出的配置可以重新加载
func TestConfigToYAML(t *testing.T) {
	cfg, err := LoadFromYAML([]byte(`
supervisor:
  restart_delay: 3s
services:
  messaging-gateway:
    enabled: true
    port: 18790
    command: gateway
    args: ["run"]
    health_endpoint: /health
    startup_timeout_ms: 15000
    max_restarts: 2
    restart_on_crash: false
    env:
      Gateway_Token: abc
`))
	require.NoError(t, err)

	data, err := cfg.ToYAML()
	require.NoError(t, err)

	parsed, err := LoadFromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, parsed.Supervisor.RestartDelay)
	assert.Equal(t, cfg.Services[string(ServiceMessagingGateway)], parsed.Services[string(ServiceMessagingGateway)])
	assert.Equal(t, "abc", parsed.Services[string(ServiceMessagingGateway)].Env["Gateway_Token"])
}
