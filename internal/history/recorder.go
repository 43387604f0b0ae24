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

package history

import (
	"context"
	"sync"
	"time"

	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
	"go.uber.org/zap"
)

// DefaultQueueSize is the number of snapshots buffered ahead of the database
const DefaultQueueSize = 256

// Recorder writes status snapshots to a Repository on its own goroutine so
// status listeners never wait on the database. Snapshots that arrive while
// the queue is full are dropped and counted.
// Recorder 在独立协程中将状态快照写入 Repository，状态监听器不会等待数据库。
// 队列已满时到达的快照会被丢弃并计数。
type Recorder struct {
	repo   *Repository
	logger *zap.Logger
	queue  chan *Transition
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder starts the writer goroutine
// NewRecorder 启动写入协程
func NewRecorder(repo *Repository, queueSize int, log *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		repo:   repo,
		logger: log,
		queue:  make(chan *Transition, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe queues one snapshot without blocking
// Observe 非阻塞地将快照加入队列
func (r *Recorder) Observe(st supervisor.State) {
	t := FromState(st)
	t.CreatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- t:
	default:
		r.dropped++
		if r.dropped == 1 || r.dropped%100 == 0 {
			r.logger.Warn("History queue full, dropping transition",
				zap.String("service", t.Service), zap.Int("dropped", r.dropped))
		}
	}
}

// Dropped returns the number of snapshots discarded so far
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) run() {
	defer close(r.done)
	for t := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.Record(ctx, t); err != nil {
			r.logger.Warn("Failed to record transition", zap.String("service", t.Service), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting snapshots and waits until the queue is written
// or ctx ends.
// Close 停止接收快照，并等待队列写完或 ctx 结束。
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
