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

package logrouter

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of one log line
// Level 是一行日志的严重级别
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// fileTimeLayout is the ISO-8601 layout used in persisted lines
const fileTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// LogEntry is one normalized log line
// LogEntry 是一行规范化后的日志
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	// Seq is the router-wide insertion order, used to keep merges stable
	// Seq 是路由器范围内的插入序号，用于保证合并排序稳定
	Seq uint64 `json:"seq"`
}

// FileLine formats the entry as a persisted line without the trailing newline
// FileLine 将日志格式化为持久化行（不含换行符）
func (e LogEntry) FileLine() string {
	return fmt.Sprintf("[%s] [%s] %s", e.Timestamp.UTC().Format(fileTimeLayout), strings.ToUpper(string(e.Level)), e.Message)
}

// Classify infers a level from message content, case-insensitively.
// Classify 根据消息内容推断级别（不区分大小写）。
func Classify(message string) Level {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "fatal"):
		return LevelError
	case strings.Contains(lower, "warn"):
		return LevelWarn
	case strings.Contains(lower, "debug"), strings.Contains(lower, "trace"):
		return LevelDebug
	default:
		return LevelInfo
	}
}

// SplitLines splits a raw chunk into trimmed, non-blank lines
// SplitLines 将原始数据块拆分为去除首尾空白的非空行
func SplitLines(chunk string) []string {
	parts := strings.Split(chunk, "\n")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		line := strings.TrimSpace(part)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ring is a fixed-capacity buffer that evicts the oldest entry when full
type ring struct {
	items []LogEntry
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{items: make([]LogEntry, capacity)}
}

func (r *ring) push(e LogEntry) {
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.start+r.size)%capacity] = e
		r.size++
		return
	}
	r.items[r.start] = e
	r.start = (r.start + 1) % capacity
}

// snapshot returns the entries oldest first
func (r *ring) snapshot() []LogEntry {
	out := make([]LogEntry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

func (r *ring) reset() {
	for i := range r.items {
		r.items[i] = LogEntry{}
	}
	r.start = 0
	r.size = 0
}
