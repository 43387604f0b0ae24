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
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/seatunnel/seatunnelX/svcd/internal/logrouter"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
	"go.uber.org/zap"
)

const (
	// streamBuffer is the per-connection queue; a slow client loses entries
	// streamBuffer 是每个连接的队列，慢客户端会丢失条目
	streamBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// StreamLogs handles GET /api/v1/ws/logs?source=. It replays the buffered
// entries, then streams live ones.
// StreamLogs 处理 GET /api/v1/ws/logs?source=，先回放缓冲日志再推送实时日志。
func (s *Server) StreamLogs(c *gin.Context) {
	source := c.Query("source")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	live := make(chan logrouter.LogEntry, streamBuffer)
	var dropped atomic.Int64
	unsubscribe := s.registry.SubscribeLogs(func(e logrouter.LogEntry) {
		if source != "" && e.Source != source {
			return
		}
		select {
		case live <- e:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	// Subscribed first, so entries already replayed are skipped by sequence
	backlog := s.registry.Logs(source)
	var replayed uint64
	for _, e := range backlog {
		replayed = max(replayed, e.Seq)
	}
	skip := func(e logrouter.LogEntry) bool { return e.Seq <= replayed }

	if err := pump(conn, s.done, backlog, live, skip); err != nil {
		s.logger.Debug("Log stream closed", zap.Error(err))
	}
	if n := dropped.Load(); n > 0 {
		s.logger.Warn("Log stream dropped entries for slow client", zap.Int64("dropped", n))
	}
}

// StreamStatus handles GET /api/v1/ws/status. It sends the current snapshot
// of every service, then every transition.
// StreamStatus 处理 GET /api/v1/ws/status，先发送所有服务的当前快照，再推送每次状态转换。
func (s *Server) StreamStatus(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	live := make(chan supervisor.State, streamBuffer)
	unsubscribe := s.registry.SubscribeStatus(func(st supervisor.State) {
		select {
		case live <- st:
		default:
		}
	})
	defer unsubscribe()

	if err := pump(conn, s.done, s.registry.Status(), live, nil); err != nil {
		s.logger.Debug("Status stream closed", zap.Error(err))
	}
}

// pump writes the backlog and then live values as JSON until the client
// goes away, a write fails or done closes.
func pump[T any](conn *websocket.Conn, done <-chan struct{}, backlog []T, live chan T, skip func(T) bool) error {
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, v := range backlog {
		if err := writeJSON(conn, v); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return nil
		case v := <-live:
			if skip != nil && skip(v) {
				continue
			}
			if err := writeJSON(conn, v); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
