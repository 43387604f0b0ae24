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

// Package process spawns child processes and terminates them gracefully.
// process 包负责启动子进程并优雅地终止它们。
package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Common errors for process management
// 进程管理的常见错误
var (
	// ErrStartFailed indicates the process failed to start
	// ErrStartFailed 表示进程启动失败
	ErrStartFailed = errors.New("process failed to start")

	// ErrNoCommand indicates an empty command
	// ErrNoCommand 表示命令为空
	ErrNoCommand = errors.New("no command configured")
)

// DefaultWaitDelay bounds how long Wait keeps copying output after the child exits
// DefaultWaitDelay 限制子进程退出后 Wait 继续复制输出的时长
const DefaultWaitDelay = 2 * time.Second

// Spec describes one launch
// Spec 描述一次启动
type Spec struct {
	Name    string
	Command string
	Args    []string
	// Env is the full environment, typically built with BuildEnv
	// Env 是完整的环境变量，通常由 BuildEnv 构建
	Env []string
	Dir string
}

// flusher is implemented by line-assembling writers
type flusher interface {
	Flush()
}

// Process is a running child
// Process 表示一个运行中的子进程
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
}

// Start launches spec with stdout and stderr wired to the given writers
// Start 启动 spec，并将标准输出和标准错误连接到给定的 writer
func Start(spec Spec, stdout, stderr io.Writer) (*Process, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, ErrNoCommand)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = DefaultWaitDelay
	setProcGroupAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	p := &Process{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait(stdout, stderr)
	return p, nil
}

func (p *Process) wait(stdout, stderr io.Writer) {
	err := p.cmd.Wait()
	for _, w := range []io.Writer{stdout, stderr} {
		if f, ok := w.(flusher); ok {
			f.Flush()
		}
	}

	p.mu.Lock()
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()
	close(p.done)
}

// PID returns the operating system process id
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained
// Done 在进程退出且输出读取完毕后关闭
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, or -1 when killed by a signal or still running
// ExitCode 返回退出码，被信号终止或仍在运行时返回 -1
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns the error reported by Wait, if any
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Exited reports whether the process has exited
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop sends SIGTERM to the process group and waits up to timeout for the
// process to exit, then sends SIGKILL. It reports whether the kill was forced.
// Stop 向进程组发送 SIGTERM 并最多等待 timeout，超时后发送 SIGKILL，返回是否强制终止。
func (p *Process) Stop(timeout time.Duration) (forced bool) {
	if p.Exited() {
		return false
	}
	_ = terminate(p.cmd)

	watchdog := time.NewTimer(timeout)
	defer watchdog.Stop()

	select {
	case <-p.done:
		return false
	case <-watchdog.C:
	}

	_ = kill(p.cmd)
	<-p.done
	return true
}

// Kill sends SIGKILL to the process group without waiting
// Kill 向进程组发送 SIGKILL，不等待
func (p *Process) Kill() {
	if p.Exited() {
		return
	}
	_ = kill(p.cmd)
}

// BuildEnv merges base with overrides. Overrides win and are appended in key
// order so the result is deterministic.
// BuildEnv 合并 base 与 overrides，overrides 优先且按键排序追加，结果确定。
func BuildEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
