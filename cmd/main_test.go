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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFromYAML([]byte(`
log:
  level: info
  file: ""
router:
  log_dir: ` + filepath.Join(dir, "services") + `
api:
  enabled: false
history:
  enabled: true
  type: sqlite
  sqlite_path: ` + filepath.Join(dir, "history.db") + `
state_file: ` + filepath.Join(dir, "state.yaml") + `
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

// TestNewDaemon tests Daemon creation
// TestNewDaemon 测试 Daemon 创建
func TestNewDaemon(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)
	defer d.Shutdown()

	assert.NotNil(t, d.registry)
	assert.NotNil(t, d.recorder)
	assert.Nil(t, d.server)
	for _, st := range d.registry.Status() {
		assert.Equal(t, supervisor.StatusStopped, st.Status)
	}
}

// TestDaemonLogsToAppSource tests that daemon logs reach the app source
// TestDaemonLogsToAppSource 测试守护进程日志进入 app 来源
func TestDaemonLogsToAppSource(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)
	defer d.Shutdown()

	d.logger.Warn("hello from the daemon")
	entries := d.registry.Logs(config.SourceApp)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "warn", string(last.Level))
	assert.Contains(t, last.Message, "hello from the daemon")
}

// TestDaemonShutdown tests Daemon shutdown
// TestDaemonShutdown 测试 Daemon 关闭
func TestDaemonShutdown(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	time.Sleep(100 * time.Millisecond)
	d.Shutdown()
	d.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Daemon did not shutdown in time")
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "loud"
	_, err := NewDaemon(cfg)
	assert.Error(t, err)
}

func TestVersionAndCheckConfigCommands(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Version:")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n  file: \"\"\n"), 0o644))

	out.Reset()
	rootCmd.SetArgs([]string{"check-config", "-c", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "configuration is valid")
	assert.Contains(t, out.String(), "coding-agent")

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	rootCmd.SetArgs([]string{"check-config", "-c", path})
	assert.Error(t, rootCmd.Execute())
}
