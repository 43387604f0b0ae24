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

// Package logrouter captures output from supervised services and the host
// application, buffers recent lines per source, persists them to one file per
// source and fans them out to live subscribers.
// logrouter 包捕获被托管服务和宿主应用的输出，按来源缓存最近的日志行，
// 持久化到每个来源一个文件，并分发给实时订阅者。
package logrouter

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxBufferLines is used when Options.MaxBufferLines is not positive
const DefaultMaxBufferLines = 1000

// Subscriber receives every routed entry
// Subscriber 接收每一条路由的日志
type Subscriber func(LogEntry)

// Options configures a Router
// Options 配置 Router
type Options struct {
	// Sources are created up front; other sources are created on first use
	// Sources 在构造时创建，其他来源在首次使用时创建
	Sources []string

	// LogDir holds <source>.log files, empty disables persistence
	// LogDir 存放 <source>.log 文件，为空则不持久化
	LogDir string

	MaxBufferLines int
	MaxFileSizeMB  int

	// Logger is the diagnostic channel for persistence failures
	// Logger 用于报告持久化失败的诊断通道
	Logger *zap.Logger

	// OnPersistError is called for every failed file write
	// OnPersistError 在每次文件写入失败时调用
	OnPersistError func(source string, err error)
}

// sourceLog owns the buffer and file of one source.
// mu guards the buffer; emitMu is taken before mu is released so that
// subscribers observe entries in insertion order.
type sourceLog struct {
	name string

	mu      sync.Mutex
	buf     *ring
	file    *lumberjack.Logger
	lastTS  time.Time
	failing bool
	closed  bool

	emitMu sync.Mutex
}

// Router normalizes, buffers, persists and broadcasts log lines
// Router 规范化、缓存、持久化并广播日志行
type Router struct {
	opts   Options
	logger *zap.Logger
	seq    atomic.Uint64

	sourcesMu sync.RWMutex
	sources   map[string]*sourceLog
	closed    bool

	subsMu sync.RWMutex
	subs   map[string]Subscriber
	order  []string
}

// New creates a Router
// New 创建 Router
func New(opts Options) *Router {
	if opts.MaxBufferLines <= 0 {
		opts.MaxBufferLines = DefaultMaxBufferLines
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		opts:    opts,
		logger:  logger.Named("logrouter"),
		sources: make(map[string]*sourceLog),
		subs:    make(map[string]Subscriber),
	}
	for _, name := range opts.Sources {
		r.sources[name] = r.newSource(name)
	}
	return r
}

func (r *Router) newSource(name string) *sourceLog {
	s := &sourceLog{name: name, buf: newRing(r.opts.MaxBufferLines)}
	if r.opts.LogDir != "" {
		// lumberjack opens the file in append mode on the first write
		s.file = &lumberjack.Logger{
			Filename: filepath.Join(r.opts.LogDir, name+".log"),
			MaxSize:  r.opts.MaxFileSizeMB,
		}
	}
	return s
}

// source returns the log of one source, creating it when create is set
func (r *Router) source(name string, create bool) *sourceLog {
	r.sourcesMu.RLock()
	s, ok := r.sources[name]
	r.sourcesMu.RUnlock()
	if ok || !create {
		return s
	}

	r.sourcesMu.Lock()
	defer r.sourcesMu.Unlock()
	if s, ok = r.sources[name]; ok {
		return s
	}
	s = r.newSource(name)
	if r.closed {
		s.closed = true
	}
	r.sources[name] = s
	return s
}

// Route splits a raw chunk into lines and routes each non-blank line.
// Lines from an error stream are always level error.
// Route 将原始数据块拆分为行并路由每个非空行，错误流中的行级别总是 error。
func (r *Router) Route(source, chunk string, isErrorStream bool) {
	lines := SplitLines(chunk)
	if len(lines) == 0 {
		return
	}
	s := r.source(source, true)
	for _, line := range lines {
		level := LevelError
		if !isErrorStream {
			level = Classify(line)
		}
		r.append(s, level, line)
	}
}

// Append routes one already-classified message
// Append 路由一条已分级的消息
func (r *Router) Append(source string, level Level, message string) {
	for _, line := range SplitLines(message) {
		r.append(r.source(source, true), level, line)
	}
}

func (r *Router) append(s *sourceLog, level Level, message string) {
	s.mu.Lock()
	ts := time.Now()
	// Per-source timestamps never go backwards
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts
	entry := LogEntry{
		Timestamp: ts,
		Source:    s.name,
		Level:     level,
		Message:   message,
		Seq:       r.seq.Add(1),
	}
	s.buf.push(entry)
	r.persist(s, entry)

	s.emitMu.Lock()
	s.mu.Unlock()
	r.publish(entry)
	s.emitMu.Unlock()
}

// persist writes one line to the source file. Caller holds s.mu.
func (r *Router) persist(s *sourceLog, entry LogEntry) {
	if s.file == nil || s.closed {
		return
	}
	if _, err := s.file.Write([]byte(entry.FileLine() + "\n")); err != nil {
		if !s.failing {
			r.logger.Warn("Failed to persist log line",
				zap.String("source", s.name),
				zap.String("file", s.file.Filename),
				zap.Error(err))
		}
		s.failing = true
		if r.opts.OnPersistError != nil {
			r.opts.OnPersistError(s.name, err)
		}
		return
	}
	if s.failing {
		r.logger.Info("Log persistence recovered", zap.String("source", s.name))
		s.failing = false
	}
}

func (r *Router) publish(entry LogEntry) {
	r.subsMu.RLock()
	subs := make([]Subscriber, 0, len(r.order))
	for _, id := range r.order {
		subs = append(subs, r.subs[id])
	}
	r.subsMu.RUnlock()

	for _, fn := range subs {
		r.safeCall(fn, entry)
	}
}

// safeCall keeps a misbehaving subscriber from breaking the routing path
func (r *Router) safeCall(fn Subscriber, entry LogEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Log subscriber panicked", zap.Any("panic", rec))
		}
	}()
	fn(entry)
}

// Subscribe registers fn for every future entry and returns an unsubscribe func.
// Subscribers run synchronously and must not route to the source they are
// being notified about.
// Subscribe 注册订阅者并返回取消订阅函数。订阅者同步执行，不能向正在通知的来源写入日志。
func (r *Router) Subscribe(fn Subscriber) func() {
	id := uuid.NewString()
	r.subsMu.Lock()
	r.subs[id] = fn
	r.order = append(r.order, id)
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			defer r.subsMu.Unlock()
			delete(r.subs, id)
			for i, v := range r.order {
				if v == id {
					r.order = append(r.order[:i:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Buffered returns a snapshot of one source's buffer, oldest first
// Buffered 返回一个来源缓冲区的快照（从旧到新）
func (r *Router) Buffered(source string) []LogEntry {
	s := r.source(source, false)
	if s == nil {
		return []LogEntry{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.snapshot()
}

// All returns every buffered entry sorted by timestamp, ties in insertion order
// All 返回所有缓存的日志，按时间排序，时间相同则按插入顺序
func (r *Router) All() []LogEntry {
	r.sourcesMu.RLock()
	sources := make([]*sourceLog, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.sourcesMu.RUnlock()

	var all []LogEntry
	for _, s := range sources {
		s.mu.Lock()
		all = append(all, s.buf.snapshot()...)
		s.mu.Unlock()
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].Seq < all[j].Seq
	})
	if all == nil {
		all = []LogEntry{}
	}
	return all
}

// Sources returns the names of every known source, sorted
// Sources 返回所有已知来源的名称（已排序）
func (r *Router) Sources() []string {
	r.sourcesMu.RLock()
	defer r.sourcesMu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear empties one source's buffer. The file is left untouched.
// Clear 清空一个来源的缓冲区，文件保持不变。
func (r *Router) Clear(source string) {
	s := r.source(source, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.buf.reset()
	s.mu.Unlock()
}

// Close releases every open file. Later entries are still buffered and
// broadcast but no longer persisted. Close is idempotent.
// Close 释放所有打开的文件，之后的日志仍会缓存和广播但不再持久化，可重复调用。
func (r *Router) Close() error {
	r.sourcesMu.Lock()
	if r.closed {
		r.sourcesMu.Unlock()
		return nil
	}
	r.closed = true
	sources := make([]*sourceLog, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.sourcesMu.Unlock()

	for _, s := range sources {
		s.mu.Lock()
		s.closed = true
		if s.file != nil {
			if err := s.file.Close(); err != nil {
				r.logger.Warn("Failed to close log file", zap.String("source", s.name), zap.Error(err))
			}
		}
		s.mu.Unlock()
	}
	return nil
}
