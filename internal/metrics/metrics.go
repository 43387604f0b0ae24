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

// Package metrics exposes supervisor activity as Prometheus metrics.
// metrics 包将监管活动以 Prometheus 指标的形式暴露。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
)

const namespace = "svcd"

// statuses lists every value the status gauge reports
var statuses = []supervisor.Status{
	supervisor.StatusStopped,
	supervisor.StatusStarting,
	supervisor.StatusRunning,
	supervisor.StatusDegraded,
	supervisor.StatusError,
}

// Metrics holds the collectors of one daemon on its own registry
// Metrics 在独立的注册表上保存一个守护进程的指标
type Metrics struct {
	registry *prometheus.Registry

	serviceStatus     *prometheus.GaugeVec
	restartCount      *prometheus.GaugeVec
	transitionsTotal  *prometheus.CounterVec
	autoRestartsTotal *prometheus.CounterVec
	probesTotal       *prometheus.CounterVec
	logLinesTotal     *prometheus.CounterVec
	persistErrors     *prometheus.CounterVec

	mu   sync.Mutex
	last map[string]observed
}

// observed is the last snapshot seen per service
type observed struct {
	status   supervisor.Status
	restarts int
}

// New registers all collectors on a fresh registry
// New 在新的注册表上注册所有指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg, last: make(map[string]observed)}
	m.serviceStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_status",
		Help:      "Current lifecycle status of each service (1 for the active status)",
	}, []string{"service", "status"})
	m.restartCount = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_restart_count",
		Help:      "Automatic restarts in the current supervision episode",
	}, []string{"service"})
	m.transitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "service_transitions_total",
		Help:      "Total number of status transitions by target status",
	}, []string{"service", "status"})
	m.autoRestartsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "service_auto_restarts_total",
		Help:      "Total number of scheduled automatic restarts",
	}, []string{"service"})
	m.probesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "health_probes_total",
		Help:      "Total number of steady-state health probes by result",
	}, []string{"service", "result"})
	m.logLinesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_lines_total",
		Help:      "Total number of routed log lines by source and level",
	}, []string{"source", "level"})
	m.persistErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_persist_errors_total",
		Help:      "Total number of failed log file writes",
	}, []string{"source"})
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
// Handler 以 Prometheus 格式输出指标
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveState records one status snapshot. Only a changed status counts as a
// transition, and a restart count that grew counts as scheduled restarts.
// ObserveState 记录一次状态快照，重启计数增长的部分计为自动重启。
func (m *Metrics) ObserveState(st supervisor.State) {
	service := string(st.Name)
	for _, s := range statuses {
		v := 0.0
		if s == st.Status {
			v = 1
		}
		m.serviceStatus.WithLabelValues(service, string(s)).Set(v)
	}
	m.restartCount.WithLabelValues(service).Set(float64(st.RestartCount))

	m.mu.Lock()
	prev := m.last[service]
	m.last[service] = observed{status: st.Status, restarts: st.RestartCount}
	m.mu.Unlock()

	if st.RestartCount > prev.restarts {
		m.autoRestartsTotal.WithLabelValues(service).Add(float64(st.RestartCount - prev.restarts))
	}
	if st.Status != prev.status {
		m.transitionsTotal.WithLabelValues(service, string(st.Status)).Inc()
	}
}

// ObserveProbe counts one steady-state probe result
func (m *Metrics) ObserveProbe(service string, healthy bool) {
	result := "failure"
	if healthy {
		result = "success"
	}
	m.probesTotal.WithLabelValues(service, result).Inc()
}

// ObserveLogLine counts one routed log line
func (m *Metrics) ObserveLogLine(source, level string) {
	m.logLinesTotal.WithLabelValues(source, level).Inc()
}

// ObservePersistError counts one failed log file write
func (m *Metrics) ObservePersistError(source string) {
	m.persistErrors.WithLabelValues(source).Inc()
}
