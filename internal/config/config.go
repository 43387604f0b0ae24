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

// Package config provides configuration management for the svcd daemon.
// config 包提供 svcd 守护进程的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables (SVCD_*) / 环境变量（SVCD_*）
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath         = "/etc/svcd/config.yaml"
	DefaultLogLevel           = "info"
	DefaultLogFile            = "/var/log/svcd/svcd.log"
	DefaultLogMaxSize         = 100 // MB
	DefaultLogMaxBackups      = 3
	DefaultLogMaxAge          = 7 // days
	DefaultServiceLogDir      = "/var/log/svcd/services"
	DefaultMaxBufferLines     = 1000
	DefaultServiceLogMaxSize  = 50 // MB
	DefaultHealthPollInterval = 500 * time.Millisecond
	DefaultMonitorInterval    = 30 * time.Second
	DefaultStopTimeout        = 5 * time.Second
	DefaultRestartDelay       = 2 * time.Second
	DefaultAPIListen          = "127.0.0.1:7070"
	DefaultHistorySQLitePath  = "/var/lib/svcd/history.db"
)

// Config represents the svcd configuration
// Config 表示 svcd 配置
type Config struct {
	// Log configuration for the daemon's own diagnostic channel / 守护进程自身诊断日志配置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Router configuration for supervised service output / 被托管服务输出的路由配置
	Router RouterConfig `mapstructure:"router" yaml:"router"`

	// Supervisor timing configuration / 监管器时间配置
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`

	// API configuration / API 配置
	API APIConfig `mapstructure:"api" yaml:"api"`

	// History configuration / 历史记录配置
	History HistoryConfig `mapstructure:"history" yaml:"history"`

	// StateFile is where UpdateConfig persists service overrides (optional)
	// StateFile 是 UpdateConfig 持久化服务覆盖配置的位置（可选）
	StateFile string `mapstructure:"state_file" yaml:"state_file"`

	// Services holds one ServiceConfig per supervised service / 每个被托管服务的配置
	Services map[string]ServiceConfig `mapstructure:"services" yaml:"services"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level" yaml:"level"`

	// File is the log file path, empty disables file output
	// File 是日志文件路径，为空则不输出到文件
	File string `mapstructure:"file" yaml:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age" yaml:"max_age"`

	// Console also writes human readable logs to stderr
	// Console 同时向 stderr 输出可读日志
	Console bool `mapstructure:"console" yaml:"console"`
}

// RouterConfig contains log router settings
// RouterConfig 包含日志路由设置
type RouterConfig struct {
	// LogDir holds one append-only file per source, empty disables persistence
	// LogDir 为每个来源保存一个追加写文件，为空则不持久化
	LogDir string `mapstructure:"log_dir" yaml:"log_dir"`

	// MaxBufferLines is the in-memory ring capacity per source
	// MaxBufferLines 是每个来源的内存环形缓冲容量
	MaxBufferLines int `mapstructure:"max_buffer_lines" yaml:"max_buffer_lines"`

	// MaxFileSizeMB rotates a source file once it grows past this size
	// MaxFileSizeMB 是来源日志文件轮转前的最大大小
	MaxFileSizeMB int `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// SupervisorConfig contains supervisor timings
// SupervisorConfig 包含监管器时间参数
type SupervisorConfig struct {
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval" yaml:"health_poll_interval"` // 启动健康轮询间隔 / Startup probe interval
	MonitorInterval    time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`         // 稳态探测间隔 / Steady-state probe interval
	StopTimeout        time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`                 // 优雅停止超时 / Graceful stop watchdog
	RestartDelay       time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`               // 崩溃重启延迟 / Crash recovery backoff
}

// APIConfig contains HTTP control API settings
// APIConfig 包含 HTTP 控制 API 设置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// HistoryConfig contains status history storage settings
// HistoryConfig 包含状态历史存储设置
type HistoryConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Type       string `mapstructure:"type" yaml:"type"` // sqlite, mysql, postgres
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	DSN        string `mapstructure:"dsn" yaml:"dsn"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath == "" {
		configPath = os.Getenv("SVCD_CONFIG_PATH")
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("SVCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	fileRead := true
	if err := v.ReadInConfig(); err != nil {
		fileRead = false
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper lower-cases every map key, which breaks environment variable names.
	// viper 会将所有 map 键转为小写，这会破坏环境变量名。
	if fileRead {
		data, err := os.ReadFile(v.ConfigFileUsed())
		if err == nil {
			restoreEnvKeys(&cfg, data)
		}
	}

	cfg.normalize()
	return &cfg, nil
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(yamlData []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadConfig(strings.NewReader(string(yamlData))); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	restoreEnvKeys(&cfg, yamlData)
	cfg.normalize()
	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
	v.SetDefault("log.console", true)

	// Router defaults / 路由默认值
	v.SetDefault("router.log_dir", DefaultServiceLogDir)
	v.SetDefault("router.max_buffer_lines", DefaultMaxBufferLines)
	v.SetDefault("router.max_file_size_mb", DefaultServiceLogMaxSize)

	// Supervisor defaults / 监管器默认值
	v.SetDefault("supervisor.health_poll_interval", DefaultHealthPollInterval)
	v.SetDefault("supervisor.monitor_interval", DefaultMonitorInterval)
	v.SetDefault("supervisor.stop_timeout", DefaultStopTimeout)
	v.SetDefault("supervisor.restart_delay", DefaultRestartDelay)

	// API defaults / API 默认值
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", DefaultAPIListen)

	// History defaults / 历史记录默认值
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.type", "sqlite")
	v.SetDefault("history.sqlite_path", DefaultHistorySQLitePath)
}

// normalize fills in every known service that the file did not mention
// normalize 为配置文件未提及的已知服务补充默认配置
func (c *Config) normalize() {
	if c.Services == nil {
		c.Services = make(map[string]ServiceConfig)
	}
	for _, name := range KnownServices() {
		if _, ok := c.Services[string(name)]; !ok {
			c.Services[string(name)] = DefaultServiceConfig(name)
		}
	}
}

// restoreEnvKeys re-reads services.*.env with their original key case
// restoreEnvKeys 以原始大小写重新读取 services.*.env
func restoreEnvKeys(cfg *Config, data []byte) {
	var raw struct {
		Services map[string]struct {
			Env map[string]string `yaml:"env"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}
	for name, svc := range raw.Services {
		key := strings.ToLower(name)
		current, ok := cfg.Services[key]
		if !ok || svc.Env == nil {
			continue
		}
		current.Env = svc.Env
		cfg.Services[key] = current
	}
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	if c.Router.MaxBufferLines <= 0 {
		return errors.New("router.max_buffer_lines must be positive")
	}

	// Validate supervisor timings / 验证监管器时间参数
	if c.Supervisor.HealthPollInterval <= 0 {
		return errors.New("supervisor.health_poll_interval must be positive")
	}
	if c.Supervisor.MonitorInterval <= 0 {
		return errors.New("supervisor.monitor_interval must be positive")
	}
	if c.Supervisor.StopTimeout <= 0 {
		return errors.New("supervisor.stop_timeout must be positive")
	}
	if c.Supervisor.RestartDelay <= 0 {
		return errors.New("supervisor.restart_delay must be positive")
	}

	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when the API is enabled")
	}

	if c.History.Enabled {
		switch c.History.Type {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("invalid history.type: %s (must be sqlite, mysql, or postgres)", c.History.Type)
		}
		if c.History.Type != "sqlite" && c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for %s", c.History.Type)
		}
	}

	for name, svc := range c.Services {
		if !IsKnownService(name) {
			return fmt.Errorf("%w: %s", ErrUnknownService, name)
		}
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("services.%s: %w", name, err)
		}
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Log.Level: %s, Router.LogDir: %s, API.Listen: %s, Services: %d}",
		c.Log.Level,
		c.Router.LogDir,
		c.API.Listen,
		len(c.Services),
	)
}

// ToYAML serializes the configuration to YAML format
// ToYAML 将配置序列化为 YAML 格式
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
