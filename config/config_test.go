// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleConfig = `
server:
  port: 9090
  jwt_secret: test-secret
database:
  driver: postgres
  dsn: postgres://localhost/engine
redis:
  addr: localhost:6379
llm:
  default_provider: openai-main
  failover_enabled: true
  routing_strategy: least_cost
  cache:
    enabled: true
    ttl_seconds: 600
  budgets:
    daily_limit_usd: 50
    monthly_limit_usd: 1000
  providers:
    - name: openai-main
      type: openai
      enabled: true
      api_key: sk-test
      default_model: gpt-4o
      models:
        gpt-4o:
          context_length: 128000
          input_cost_per_1k: 0.0025
          output_cost_per_1k: 0.01
          capabilities: [chat, completion, streaming, function_calling]
    - name: local-ollama
      type: ollama
      enabled: true
      endpoint: http://localhost:11434
      default_model: llama3
      models:
        llama3:
          local: true
          capabilities: [chat, completion]
  agent_routes:
    recruiting:
      primary: "openai-main:gpt-4o"
      fallback: "local-ollama:llama3"
      use_case: resume screening
    drafting:
      candidates:
        - "local-ollama:llama3"
        - "openai-main:gpt-4o"
workflow:
  sweep_interval_seconds: 120
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test-secret", cfg.Server.JWTSecret)
	assert.Equal(t, "openai-main", cfg.LLM.DefaultProvider)
	assert.True(t, cfg.LLM.FailoverEnabled)
	assert.Equal(t, "least_cost", cfg.LLM.RoutingStrategy)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 2*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 50.0, cfg.LLM.Budgets.DailyLimitUSD)

	providers := cfg.ProviderConfigs()
	require.Len(t, providers, 2)
	assert.Equal(t, "openai-main", providers[0].Name)
	assert.Equal(t, 0.0025, providers[0].Models["gpt-4o"].InputCostPer1K)
	assert.True(t, providers[1].Models["llama3"].Local)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  dsn: postgres://localhost/engine\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, 120, cfg.Server.WriteTimeoutSeconds)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "round_robin", cfg.LLM.RoutingStrategy)
	assert.Equal(t, time.Minute, cfg.HealthCheckInterval())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 1.0, cfg.LLM.Cache.SimilarityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"bad driver",
			"database:\n  driver: sqlite\n",
			"database.driver",
		},
		{
			"mysql driver rejected",
			"database:\n  driver: mysql\n",
			"database.driver must be postgres",
		},
		{
			"bad routing strategy",
			"llm:\n  routing_strategy: dice_roll\n",
			"routing_strategy",
		},
		{
			"duplicate provider",
			"llm:\n  providers:\n    - name: a\n      type: openai\n    - name: a\n      type: openai\n",
			"duplicate provider",
		},
		{
			"unknown default provider",
			"llm:\n  default_provider: ghost\n",
			"default_provider",
		},
		{
			"empty agent route",
			"llm:\n  agent_routes:\n    recruiting: {}\n",
			"primary or candidates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAgentRoutes(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	routes, err := cfg.AgentRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 2)

	recruiting := routes["recruiting"]
	assert.Equal(t, "openai-main", recruiting.Primary.Provider)
	assert.Equal(t, "gpt-4o", recruiting.Primary.Model)
	assert.Equal(t, "local-ollama", recruiting.Fallback.Provider)
	assert.Equal(t, "resume screening", recruiting.UseCase)

	// With only candidates, the first candidate becomes primary.
	drafting := routes["drafting"]
	assert.Equal(t, "local-ollama", drafting.Primary.Provider)
	require.Len(t, drafting.Candidates, 2)
}

func TestAgentRoutesBadReference(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.AgentRoutes = map[string]RouteEntry{
		"broken": {Primary: "no-colon-here"},
	}

	_, err := cfg.AgentRoutes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
