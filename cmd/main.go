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

// Package main is the entry point of svcd, the supervisor that keeps the
// coding-agent and messaging-gateway backends running.
// main 包是 svcd 的入口点，svcd 负责保持编码代理和消息网关后端持续运行。
//
// svcd:
// - Spawns every enabled service and gates it on its health endpoint / 启动已启用的服务并等待健康检查
// - Restarts crashed services within a bounded budget / 在有限次数内重启崩溃的服务
// - Routes service output into buffered, persisted log streams / 将服务输出路由到带缓冲和持久化的日志流
// - Serves an HTTP control API with metrics / 提供带指标的 HTTP 控制 API
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seatunnel/seatunnelX/svcd/internal/api"
	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/history"
	"github.com/seatunnel/seatunnelX/svcd/internal/logger"
	"github.com/seatunnel/seatunnelX/svcd/internal/logrouter"
	"github.com/seatunnel/seatunnelX/svcd/internal/metrics"
	"github.com/seatunnel/seatunnelX/svcd/internal/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds stopping every service on exit
const shutdownTimeout = 30 * time.Second

// Daemon wires the supervisor components together
// Daemon 将监管组件组装在一起
type Daemon struct {
	// config holds the daemon configuration
	// config 保存守护进程配置
	config *config.Config

	// logger writes to the daemon log file and the app log source
	// logger 同时写入守护进程日志文件和 app 日志来源
	logger *zap.Logger

	router   *logrouter.Router
	metrics  *metrics.Metrics
	registry *registry.Registry
	server   *api.Server

	// historyDB and recorder are nil when history is disabled
	// 历史记录禁用时 historyDB 和 recorder 为 nil
	historyDB          *gorm.DB
	recorder           *history.Recorder
	unsubscribeHistory func()

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	shutdown bool
}

// NewDaemon builds every component from cfg
// NewDaemon 根据 cfg 创建所有组件
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	base, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	m := metrics.New()
	router := logrouter.New(logrouter.Options{
		Sources:        append([]string{config.SourceApp}, serviceSources()...),
		LogDir:         cfg.Router.LogDir,
		MaxBufferLines: cfg.Router.MaxBufferLines,
		MaxFileSizeMB:  cfg.Router.MaxFileSizeMB,
		Logger:         base,
		OnPersistError: func(source string, err error) { m.ObservePersistError(source) },
	})

	// Application logs also land in the app source
	// 应用日志同时写入 app 来源
	log := base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, logrouter.NewCore(router, config.SourceApp, level))
	}))

	store := config.NewStore(cfg.Services, cfg.StateFile)
	if err := store.LoadOverrides(); err != nil {
		return nil, err
	}

	d := &Daemon{
		config:  cfg,
		logger:  log,
		router:  router,
		metrics: m,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.registry = registry.New(registry.Options{
		Store:   store,
		Router:  router,
		Timing:  cfg.Supervisor,
		Metrics: m,
		Logger:  log,
	})

	var repo *history.Repository
	if cfg.History.Enabled {
		db, err := history.Open(cfg.History, log)
		if err != nil {
			return nil, err
		}
		d.historyDB = db
		repo = history.NewRepository(db)
		d.recorder = history.NewRecorder(repo, history.DefaultQueueSize, log)
		d.unsubscribeHistory = d.registry.SubscribeStatus(d.recorder.Observe)
	}

	if cfg.API.Enabled {
		if level != zapcore.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		d.server = api.New(api.Options{
			Registry: d.registry,
			History:  repo,
			Metrics:  m,
			Logger:   log,
		})
	}
	return d, nil
}

func serviceSources() []string {
	names := config.KnownServices()
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = string(name)
	}
	return out
}

// Run starts every enabled service and serves the API until Shutdown
// Run 启动所有已启用的服务并提供 API，直到 Shutdown
func (d *Daemon) Run() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("svcd starting",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.Bool("api", d.server != nil),
		zap.Bool("history", d.historyDB != nil))

	g, gctx := errgroup.WithContext(d.ctx)
	if d.server != nil {
		g.Go(func() error {
			return d.server.Run(gctx, d.config.API.Listen)
		})
	}
	g.Go(func() error {
		// A service that fails here stays in error; the daemon keeps running
		if err := d.registry.StartEnabled(gctx); err != nil {
			d.logger.Warn("Some services failed to start", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Shutdown stops every service and releases all resources
// Shutdown 停止所有服务并释放所有资源
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return
	}
	d.shutdown = true
	d.mu.Unlock()

	d.logger.Info("svcd shutting down")
	d.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.registry.StopAll(ctx); err != nil {
		d.logger.Warn("Error stopping services", zap.Error(err))
	}
	d.registry.Close()

	if d.unsubscribeHistory != nil {
		d.unsubscribeHistory()
	}
	if d.recorder != nil {
		if err := d.recorder.Close(ctx); err != nil {
			d.logger.Warn("History recorder did not drain", zap.Error(err))
		}
	}
	if d.historyDB != nil {
		if err := history.Close(d.historyDB); err != nil {
			d.logger.Warn("Error closing history database", zap.Error(err))
		}
	}

	d.logger.Info("svcd shutdown complete")
	_ = d.logger.Sync()
	_ = d.router.Close()
}

// rootCmd is the root command for the svcd CLI
// rootCmd 是 svcd CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "svcd",
	Short: "svcd - supervisor for the coding-agent and messaging-gateway backends",
	Long: `svcd keeps external backend services running.
svcd 负责保持外部后端服务持续运行。

- Spawns enabled services and waits for their health endpoint / 启动服务并等待健康检查
- Monitors health and restarts crashed services / 监控健康状态并重启崩溃的服务
- Collects service output into per-source log streams / 收集服务输出到分来源日志流
- Serves an HTTP control API / 提供 HTTP 控制 API`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "svcd\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// checkConfigCmd loads, validates and prints the effective configuration
// checkConfigCmd 加载、验证并打印生效的配置
var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print it / 验证并打印配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# configuration is valid\n%s", data)
		return nil
	},
}

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: "+config.DefaultConfigPath+")")
	rootCmd.AddCommand(versionCmd, checkConfigCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runDaemon is the main entry point for the daemon
// runDaemon 是守护进程的主入口点
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	daemon, err := NewDaemon(cfg)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- daemon.Run()
	}()

	select {
	case sig := <-sigChan:
		daemon.logger.Info("Received signal", zap.String("signal", sig.String()))
		daemon.Shutdown()
		return <-errChan
	case err := <-errChan:
		daemon.Shutdown()
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
