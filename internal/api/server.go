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

// Package api serves the HTTP control surface of the supervisor.
// api 包提供监管器的 HTTP 控制接口。
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/seatunnel/seatunnelX/svcd/internal/history"
	"github.com/seatunnel/seatunnelX/svcd/internal/metrics"
	"github.com/seatunnel/seatunnelX/svcd/internal/registry"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds the graceful HTTP shutdown
const DefaultShutdownTimeout = 5 * time.Second

// Options configures a Server
// Options 配置 Server
type Options struct {
	Registry *registry.Registry
	// History and Metrics are optional / History 和 Metrics 为可选
	History *history.Repository
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Server is the gin engine plus its dependencies
// Server 包含 gin 引擎及其依赖
type Server struct {
	engine   *gin.Engine
	registry *registry.Registry
	history  *history.Repository
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// done ends open websocket streams on shutdown
	done      chan struct{}
	closeOnce sync.Once
}

// New builds the engine and registers all routes
// New 创建引擎并注册所有路由
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), loggerMiddleware(logger))

	s := &Server{
		engine:   engine,
		registry: opts.Registry,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	apiV1 := s.engine.Group("/api/v1")
	{
		apiV1.GET("/health", s.Health)

		services := apiV1.Group("/services")
		{
			services.GET("", s.ListServices)
			services.GET("/:name", s.GetService)
			services.POST("/:name/start", s.StartService)
			services.POST("/:name/stop", s.StopService)
			services.POST("/:name/restart", s.RestartService)
			services.GET("/:name/config", s.GetServiceConfig)
			services.PATCH("/:name/config", s.UpdateServiceConfig)
			services.GET("/:name/history", s.ListServiceHistory)
		}

		apiV1.GET("/logs", s.ListLogs)
		apiV1.DELETE("/logs/:source", s.ClearLogs)

		apiV1.GET("/ws/logs", s.StreamLogs)
		apiV1.GET("/ws/status", s.StreamStatus)
	}
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx ends, then shuts down gracefully
// Run 在 addr 上提供服务直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
// Serve 在已有监听器上运行
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.closeStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// closeStreams ends every open websocket stream
func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.done) })
}
