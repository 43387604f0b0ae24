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

// Package history persists service status transitions to a relational database.
// history 包将服务状态转换持久化到关系型数据库。
package history

import (
	"time"

	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
)

// Transition is one recorded status snapshot
// Transition 是一条已记录的状态快照
type Transition struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Service      string    `gorm:"size:64;index:idx_transition_service_time" json:"service"`
	Status       string    `gorm:"size:16;index" json:"status"`
	PID          int       `json:"pid"`
	RestartCount int       `json:"restart_count"`
	LastError    string    `gorm:"size:1024" json:"last_error,omitempty"`
	CreatedAt    time.Time `gorm:"index:idx_transition_service_time" json:"created_at"`
}

// TableName specifies the table name for Transition
// TableName 指定 Transition 的表名
func (Transition) TableName() string {
	return "service_transitions"
}

// FromState converts a status snapshot into a row
// FromState 将状态快照转换为记录行
func FromState(st supervisor.State) *Transition {
	lastError := st.LastError
	if len(lastError) > 1024 {
		lastError = lastError[:1024]
	}
	return &Transition{
		Service:      string(st.Name),
		Status:       string(st.Status),
		PID:          st.PID,
		RestartCount: st.RestartCount,
		LastError:    lastError,
	}
}

// Filter narrows a history query
// Filter 用于筛选历史查询
type Filter struct {
	Service string
	Status  string
	Since   *time.Time
	// Limit caps the result; zero means DefaultListLimit
	Limit int
}
