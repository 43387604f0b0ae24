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

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func state(status supervisor.Status, restarts int) supervisor.State {
	return supervisor.State{Name: config.ServiceCodingAgent, Status: status, RestartCount: restarts}
}

func TestObserveStateStatusGauge(t *testing.T) {
	m := New()

	m.ObserveState(state(supervisor.StatusStarting, 0))
	m.ObserveState(state(supervisor.StatusRunning, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.serviceStatus.WithLabelValues("coding-agent", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.serviceStatus.WithLabelValues("coding-agent", "starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("coding-agent", "running")))
}

func TestObserveStateCountsRestartsOnce(t *testing.T) {
	m := New()

	m.ObserveState(state(supervisor.StatusRunning, 0))
	m.ObserveState(state(supervisor.StatusError, 0))
	// Scheduling a restart republishes error with a higher count
	m.ObserveState(state(supervisor.StatusError, 1))
	m.ObserveState(state(supervisor.StatusStarting, 1))
	m.ObserveState(state(supervisor.StatusRunning, 1))
	// A manual restart resets the count without undoing the counter
	m.ObserveState(state(supervisor.StatusStopped, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.autoRestartsTotal.WithLabelValues("coding-agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("coding-agent", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("coding-agent", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.restartCount.WithLabelValues("coding-agent")))
}

func TestProbeAndLogCounters(t *testing.T) {
	m := New()

	m.ObserveProbe("messaging-gateway", true)
	m.ObserveProbe("messaging-gateway", false)
	m.ObserveProbe("messaging-gateway", false)
	m.ObserveLogLine("app", "info")
	m.ObservePersistError("coding-agent")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("messaging-gateway", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("messaging-gateway", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logLinesTotal.WithLabelValues("app", "info")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistErrors.WithLabelValues("coding-agent")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveLogLine("app", "warn")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `svcd_log_lines_total{level="warn",source="app"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
