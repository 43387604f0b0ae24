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

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/history"
	"github.com/seatunnel/seatunnelX/svcd/internal/logrouter"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
)

// ==================== Request/Response Types 请求/响应类型 ====================

// Response is the envelope of every JSON reply
// Response 是所有 JSON 响应的外层结构
type Response struct {
	ErrorMsg string      `json:"error_msg"`
	Data     interface{} `json:"data"`
}

// ServiceListResponse represents the response for listing services
// ServiceListResponse 表示服务列表响应
type ServiceListResponse struct {
	ErrorMsg string             `json:"error_msg"`
	Data     []supervisor.State `json:"data"`
}

// ServiceResponse represents the response carrying one service snapshot
// ServiceResponse 表示单个服务快照响应
type ServiceResponse struct {
	ErrorMsg string            `json:"error_msg"`
	Data     *supervisor.State `json:"data"`
}

// ServiceConfigResponse represents the response carrying one service config
// ServiceConfigResponse 表示单个服务配置响应
type ServiceConfigResponse struct {
	ErrorMsg string                `json:"error_msg"`
	Data     *config.ServiceConfig `json:"data"`
}

// LogsResponse represents the response for buffered log entries
// LogsResponse 表示缓冲日志响应
type LogsResponse struct {
	ErrorMsg string               `json:"error_msg"`
	Data     []logrouter.LogEntry `json:"data"`
}

// HistoryResponse represents the response for status history
// HistoryResponse 表示状态历史响应
type HistoryResponse struct {
	ErrorMsg string `json:"error_msg"`
	Data     *struct {
		Total       int64                 `json:"total"`
		Transitions []*history.Transition `json:"transitions"`
	} `json:"data"`
}

// HistoryRequest represents the query of a history listing
// HistoryRequest 表示历史查询参数
type HistoryRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// statusOf maps a control error to an HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, config.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, config.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrServiceDisabled),
		errors.Is(err, supervisor.ErrAlreadyStarting),
		errors.Is(err, supervisor.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrHealthCheckFailed),
		errors.Is(err, supervisor.ErrSpawnFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ==================== Handlers 处理器 ====================

// Health handles GET /api/v1/health
// Health 处理 GET /api/v1/health
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Data: gin.H{"status": "ok"}})
}

// ListServices handles GET /api/v1/services
// ListServices 处理 GET /api/v1/services - 获取所有服务状态
func (s *Server) ListServices(c *gin.Context) {
	c.JSON(http.StatusOK, ServiceListResponse{Data: s.registry.Status()})
}

// GetService handles GET /api/v1/services/:name
// GetService 处理 GET /api/v1/services/:name - 获取单个服务状态
func (s *Server) GetService(c *gin.Context) {
	st, err := s.registry.StatusOf(c.Param("name"))
	if err != nil {
		c.JSON(statusOf(err), ServiceResponse{ErrorMsg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ServiceResponse{Data: &st})
}

// StartService handles POST /api/v1/services/:name/start. The reply carries
// the snapshot after the attempt, also when it failed.
// StartService 处理 POST /api/v1/services/:name/start，无论成功与否都返回尝试后的快照。
func (s *Server) StartService(c *gin.Context) {
	s.control(c, s.registry.Start)
}

// StopService handles POST /api/v1/services/:name/stop
// StopService 处理 POST /api/v1/services/:name/stop
func (s *Server) StopService(c *gin.Context) {
	s.control(c, s.registry.Stop)
}

// RestartService handles POST /api/v1/services/:name/restart
// RestartService 处理 POST /api/v1/services/:name/restart
func (s *Server) RestartService(c *gin.Context) {
	s.control(c, s.registry.Restart)
}

func (s *Server) control(c *gin.Context, op func(ctx context.Context, name string) error) {
	name := c.Param("name")
	opErr := op(c.Request.Context(), name)

	st, err := s.registry.StatusOf(name)
	if err != nil {
		c.JSON(statusOf(err), ServiceResponse{ErrorMsg: err.Error()})
		return
	}
	if opErr != nil {
		_ = c.Error(opErr)
		c.JSON(statusOf(opErr), ServiceResponse{ErrorMsg: opErr.Error(), Data: &st})
		return
	}
	c.JSON(http.StatusOK, ServiceResponse{Data: &st})
}

// GetServiceConfig handles GET /api/v1/services/:name/config
// GetServiceConfig 处理 GET /api/v1/services/:name/config
func (s *Server) GetServiceConfig(c *gin.Context) {
	cfg, err := s.registry.ConfigOf(c.Param("name"))
	if err != nil {
		c.JSON(statusOf(err), ServiceConfigResponse{ErrorMsg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ServiceConfigResponse{Data: &cfg})
}

// UpdateServiceConfig handles PATCH /api/v1/services/:name/config. Changes
// apply on the next start.
// UpdateServiceConfig 处理 PATCH /api/v1/services/:name/config，修改在下次启动时生效。
func (s *Server) UpdateServiceConfig(c *gin.Context) {
	var patch config.ServicePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ServiceConfigResponse{ErrorMsg: err.Error()})
		return
	}
	cfg, err := s.registry.UpdateConfig(c.Param("name"), patch)
	if err != nil {
		c.JSON(statusOf(err), ServiceConfigResponse{ErrorMsg: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ServiceConfigResponse{Data: &cfg})
}

// ListServiceHistory handles GET /api/v1/services/:name/history
// ListServiceHistory 处理 GET /api/v1/services/:name/history - 获取状态转换历史
func (s *Server) ListServiceHistory(c *gin.Context) {
	name := c.Param("name")
	if !config.IsKnownService(name) {
		c.JSON(http.StatusNotFound, HistoryResponse{ErrorMsg: config.ErrUnknownService.Error() + ": " + name})
		return
	}
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, HistoryResponse{ErrorMsg: "history is disabled"})
		return
	}

	req := &HistoryRequest{Limit: history.DefaultListLimit}
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, HistoryResponse{ErrorMsg: err.Error()})
		return
	}

	rows, total, err := s.history.List(c.Request.Context(), &history.Filter{
		Service: name,
		Status:  req.Status,
		Limit:   req.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, HistoryResponse{ErrorMsg: err.Error()})
		return
	}

	resp := HistoryResponse{}
	resp.Data = &struct {
		Total       int64                 `json:"total"`
		Transitions []*history.Transition `json:"transitions"`
	}{Total: total, Transitions: rows}
	c.JSON(http.StatusOK, resp)
}

// ListLogs handles GET /api/v1/logs?source=. Without a source every buffered
// entry is returned merged by time.
// ListLogs 处理 GET /api/v1/logs?source=，未指定来源时返回按时间合并的全部缓冲日志。
func (s *Server) ListLogs(c *gin.Context) {
	c.JSON(http.StatusOK, LogsResponse{Data: s.registry.Logs(c.Query("source"))})
}

// ClearLogs handles DELETE /api/v1/logs/:source
// ClearLogs 处理 DELETE /api/v1/logs/:source - 清空内存缓冲
func (s *Server) ClearLogs(c *gin.Context) {
	s.registry.ClearLogs(c.Param("source"))
	c.JSON(http.StatusOK, Response{})
}
