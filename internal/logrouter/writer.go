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
	"bytes"
	"sync"
)

// maxPendingLine bounds a line that never receives a newline
const maxPendingLine = 64 * 1024

// LineWriter is an io.Writer that routes complete lines of one stream.
// A line split across two writes is routed once, when its newline arrives.
// LineWriter 是按完整行路由一个输出流的 io.Writer，跨两次写入的行在换行到达时路由一次。
type LineWriter struct {
	router  *Router
	source  string
	isError bool

	mu      sync.Mutex
	pending []byte
}

// Writer returns a LineWriter for one stream of source
// Writer 返回某个来源一个输出流的 LineWriter
func (r *Router) Writer(source string, isErrorStream bool) *LineWriter {
	return &LineWriter{router: r, source: source, isError: isErrorStream}
}

// Write never fails
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	if idx := bytes.LastIndexByte(w.pending, '\n'); idx >= 0 {
		w.router.Route(w.source, string(w.pending[:idx+1]), w.isError)
		rest := w.pending[idx+1:]
		w.pending = append(w.pending[:0:0], rest...)
	}
	if len(w.pending) >= maxPendingLine {
		w.router.Route(w.source, string(w.pending), w.isError)
		w.pending = w.pending[:0]
	}
	return len(p), nil
}

// Flush routes a trailing partial line, if any
// Flush 路由末尾不完整的行（如果有）
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.router.Route(w.source, string(w.pending), w.isError)
		w.pending = nil
	}
}
