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

package process

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe bytes.Buffer
type syncBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushed int
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Flush() {
	b.mu.Lock()
	b.flushed++
	b.mu.Unlock()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tests require a POSIX system")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found in PATH")
	}
	return sh
}

func TestStartCapturesOutputAndExitCode(t *testing.T) {
	sh := requireShell(t)
	var stdout, stderr syncBuffer

	p, err := Start(Spec{
		Command: sh,
		Args:    []string{"-c", `echo "port=$PORT"; echo oops >&2; exit 3`},
		Env:     BuildEnv(os.Environ(), map[string]string{"PORT": "4096"}),
	}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	assert.Equal(t, 3, p.ExitCode())
	assert.Error(t, p.Err())
	assert.Equal(t, "port=4096\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
	assert.Equal(t, 1, stdout.flushed)
	assert.False(t, p.Stop(time.Second))
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(Spec{Command: "/nonexistent/svcd-test-binary"}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStartFailed))

	_, err = Start(Spec{Command: "  "}, nil, nil)
	assert.True(t, errors.Is(err, ErrNoCommand))
}

func TestStopGraceful(t *testing.T) {
	sh := requireShell(t)
	p, err := Start(Spec{Command: sh, Args: []string{"-c", "sleep 30"}}, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	forced := p.Stop(5 * time.Second)
	assert.False(t, forced)
	assert.True(t, p.Exited())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestStopForcedWhenTermIgnored(t *testing.T) {
	sh := requireShell(t)
	var stdout syncBuffer
	p, err := Start(Spec{
		Command: sh,
		Args:    []string{"-c", `trap "" TERM; echo ready; while true; do sleep 0.1; done`},
	}, &stdout, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return strings.Contains(stdout.String(), "ready") }, 5*time.Second, 20*time.Millisecond)

	start := time.Now()
	forced := p.Stop(300 * time.Millisecond)
	assert.True(t, forced)
	assert.True(t, p.Exited())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, -1, p.ExitCode())
}

func TestBuildEnv(t *testing.T) {
	env := BuildEnv([]string{"HOME=/root", "PORT=1", "PATH=/bin"}, map[string]string{"PORT": "4096", "A": "b"})
	assert.Equal(t, []string{"HOME=/root", "PATH=/bin", "A=b", "PORT=4096"}, env)
}
