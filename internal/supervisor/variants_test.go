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

package supervisor

import (
	"testing"

	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestArgsForKnownServices(t *testing.T) {
	tests := []struct {
		name config.ServiceName
		args []string
		want []string
	}{
		{config.ServiceCodingAgent, nil, []string{"serve"}},
		{config.ServiceCodingAgent, []string{"serve", "--verbose"}, []string{"serve", "--verbose"}},
		{config.ServiceCodingAgent, []string{"--verbose"}, []string{"--verbose"}},
		{config.ServiceMessagingGateway, []string{}, []string{"run"}},
		{config.ServiceMessagingGateway, []string{"run"}, []string{"run"}},
		{config.ServiceName("other"), nil, []string{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.name), func(t *testing.T) {
			assert.Equal(t, tt.want, ArgsFor(tt.name)(tt.args))
		})
	}
}

func TestLaunchArgsDoesNotMutateConfig(t *testing.T) {
	base := make([]string, 1, 8)
	base[0] = "serve"

	got := LaunchArgs(ArgsFor(config.ServiceCodingAgent), base, 4096)
	assert.Equal(t, []string{"serve", "--port", "4096"}, got)
	assert.Equal(t, []string{"serve"}, base)

	// Neither the result nor the spare capacity may alias the configured array
	got[0] = "changed"
	assert.Equal(t, "serve", base[0])
	assert.Equal(t, "", base[:2][1])
	assert.Equal(t, []string{"run", "--port", "18789"}, LaunchArgs(ArgsFor(config.ServiceMessagingGateway), nil, 18789))
}

func TestResolveEndpoint(t *testing.T) {
	noEnv := func(string) (string, bool) { return "", false }
	cfg := config.DefaultServiceConfig(config.ServiceCodingAgent)

	ep := ResolveEndpoint(config.ServiceCodingAgent, cfg, noEnv)
	assert.Equal(t, Endpoint{Port: 4096, BaseURL: "http://127.0.0.1:4096", HealthURL: "http://127.0.0.1:4096/health"}, ep)

	cfg.BaseURL = "http://agent.local:9000/"
	ep = ResolveEndpoint(config.ServiceCodingAgent, cfg, noEnv)
	assert.Equal(t, "http://agent.local:9000", ep.BaseURL)
	assert.Equal(t, "http://agent.local:9000/health", ep.HealthURL)

	env := map[string]string{"CODING_AGENT_PORT": "5001"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	ep = ResolveEndpoint(config.ServiceCodingAgent, cfg, lookup)
	assert.Equal(t, 5001, ep.Port)
	assert.Equal(t, "http://127.0.0.1:5001", ep.BaseURL)

	env["CODING_AGENT_URL"] = "http://remote:7000"
	ep = ResolveEndpoint(config.ServiceCodingAgent, cfg, lookup)
	assert.Equal(t, 5001, ep.Port)
	assert.Equal(t, "http://remote:7000/health", ep.HealthURL)

	// Invalid port overrides are ignored / 非法端口覆盖被忽略
	env = map[string]string{"MESSAGING_GATEWAY_PORT": "not-a-port"}
	gw := config.DefaultServiceConfig(config.ServiceMessagingGateway)
	ep = ResolveEndpoint(config.ServiceMessagingGateway, gw, lookup)
	assert.Equal(t, 18789, ep.Port)
}
