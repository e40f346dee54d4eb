// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package config loads the static engine configuration. The
// configuration is read once at process start, validated, and passed by
// injection into the engines; nothing re-reads it per request.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"peopleflow/platform/orchestrator/llm"
)

// Config is the root configuration object.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port                int      `yaml:"port"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	JWTSecret           string   `yaml:"jwt_secret"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
}

// DatabaseConfig configures the relational store. The stores are
// written against PostgreSQL (lib/pq); "postgres" is the only accepted
// driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the completion cache backend. An empty Addr
// disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LLMConfig configures the routing engine.
type LLMConfig struct {
	DefaultProvider            string `yaml:"default_provider"`
	FailoverEnabled            bool   `yaml:"failover_enabled"`
	RoutingStrategy            string `yaml:"routing_strategy"`
	HealthCheckIntervalSeconds int    `yaml:"health_check_interval_seconds"`

	Cache   CacheConfig  `yaml:"cache"`
	Budgets BudgetConfig `yaml:"budgets"`

	Providers   []ProviderEntry       `yaml:"providers"`
	AgentRoutes map[string]RouteEntry `yaml:"agent_routes"`
}

// CacheConfig configures completion response caching.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds"`

	// SimilarityThreshold selects exact-match caching at 1.0. Values
	// below 1.0 are accepted and treated as exact match.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// BudgetConfig configures spend alerting limits in USD. Zero disables
// the corresponding period.
type BudgetConfig struct {
	DailyLimitUSD   float64 `yaml:"daily_limit_usd"`
	MonthlyLimitUSD float64 `yaml:"monthly_limit_usd"`
}

// ProviderEntry is one provider in the YAML catalog.
type ProviderEntry struct {
	Name            string                `yaml:"name"`
	Type            string                `yaml:"type"`
	Enabled         bool                  `yaml:"enabled"`
	APIKey          string                `yaml:"api_key"`
	APIKeySecretARN string                `yaml:"api_key_secret_arn"`
	Endpoint        string                `yaml:"endpoint"`
	Region          string                `yaml:"region"`
	DefaultModel    string                `yaml:"default_model"`
	Models          map[string]ModelEntry `yaml:"models"`
	TimeoutSeconds  int                   `yaml:"timeout_seconds"`
	MaxRetries      int                   `yaml:"max_retries"`
}

// ModelEntry is one model in a provider's YAML catalog.
type ModelEntry struct {
	ContextLength   int      `yaml:"context_length"`
	InputCostPer1K  float64  `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64  `yaml:"output_cost_per_1k"`
	Capabilities    []string `yaml:"capabilities"`
	Local           bool     `yaml:"local"`
}

// RouteEntry is one agent route in YAML, using "provider:model"
// references.
type RouteEntry struct {
	Primary    string   `yaml:"primary"`
	Fallback   string   `yaml:"fallback"`
	Candidates []string `yaml:"candidates"`
	UseCase    string   `yaml:"use_case"`
}

// WorkflowConfig configures the workflow engine and its sweeper.
type WorkflowConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// DefaultTimeoutHours maps a workflow type to the step timeout
	// applied when a template leaves timeout_hours unset.
	DefaultTimeoutHours map[string]int `yaml:"default_timeout_hours"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 30
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 120
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.LLM.RoutingStrategy == "" {
		c.LLM.RoutingStrategy = string(llm.RoutingStrategyRoundRobin)
	}
	if c.LLM.HealthCheckIntervalSeconds == 0 {
		c.LLM.HealthCheckIntervalSeconds = 60
	}
	if c.LLM.Cache.TTLSeconds == 0 {
		c.LLM.Cache.TTLSeconds = 300
	}
	if c.LLM.Cache.SimilarityThreshold == 0 {
		c.LLM.Cache.SimilarityThreshold = 1.0
	}
	if c.Workflow.SweepIntervalSeconds == 0 {
		c.Workflow.SweepIntervalSeconds = 300
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver must be postgres, got %q", c.Database.Driver)
	}
	if !llm.IsValidRoutingStrategy(c.LLM.RoutingStrategy) {
		return fmt.Errorf("llm.routing_strategy %q is not valid", c.LLM.RoutingStrategy)
	}

	names := make(map[string]bool, len(c.LLM.Providers))
	for _, p := range c.LLM.Providers {
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
	}

	if c.LLM.DefaultProvider != "" && !names[c.LLM.DefaultProvider] {
		return fmt.Errorf("llm.default_provider %q is not a configured provider", c.LLM.DefaultProvider)
	}

	for agent, route := range c.LLM.AgentRoutes {
		if route.Primary == "" && len(route.Candidates) == 0 {
			return fmt.Errorf("agent route %q needs a primary or candidates", agent)
		}
	}
	return nil
}

// ProviderConfigs converts the YAML provider entries to the engine's
// configuration type.
func (c *Config) ProviderConfigs() []llm.ProviderConfig {
	out := make([]llm.ProviderConfig, 0, len(c.LLM.Providers))
	for _, p := range c.LLM.Providers {
		models := make(map[string]llm.ModelSpec, len(p.Models))
		for id, m := range p.Models {
			caps := make([]llm.Capability, 0, len(m.Capabilities))
			for _, cap := range m.Capabilities {
				caps = append(caps, llm.Capability(cap))
			}
			models[id] = llm.ModelSpec{
				ContextLength:   m.ContextLength,
				InputCostPer1K:  m.InputCostPer1K,
				OutputCostPer1K: m.OutputCostPer1K,
				Capabilities:    caps,
				Local:           m.Local,
			}
		}
		out = append(out, llm.ProviderConfig{
			Name:            p.Name,
			Type:            llm.ProviderType(p.Type),
			Enabled:         p.Enabled,
			APIKey:          p.APIKey,
			APIKeySecretARN: p.APIKeySecretARN,
			Endpoint:        p.Endpoint,
			Region:          p.Region,
			DefaultModel:    p.DefaultModel,
			Models:          models,
			TimeoutSeconds:  p.TimeoutSeconds,
			MaxRetries:      p.MaxRetries,
		})
	}
	return out
}

// AgentRoutes converts the YAML route entries to the engine's route
// map, parsing "provider:model" references.
func (c *Config) AgentRoutes() (map[string]llm.AgentRoute, error) {
	out := make(map[string]llm.AgentRoute, len(c.LLM.AgentRoutes))
	for agent, entry := range c.LLM.AgentRoutes {
		var route llm.AgentRoute
		route.UseCase = entry.UseCase

		if entry.Primary != "" {
			pm, err := llm.ParseProviderModel(entry.Primary)
			if err != nil {
				return nil, fmt.Errorf("agent route %q: %w", agent, err)
			}
			route.Primary = pm
		}
		if entry.Fallback != "" {
			pm, err := llm.ParseProviderModel(entry.Fallback)
			if err != nil {
				return nil, fmt.Errorf("agent route %q: %w", agent, err)
			}
			route.Fallback = pm
		}
		for _, c := range entry.Candidates {
			pm, err := llm.ParseProviderModel(c)
			if err != nil {
				return nil, fmt.Errorf("agent route %q: %w", agent, err)
			}
			route.Candidates = append(route.Candidates, pm)
		}
		if route.Primary.IsZero() && len(route.Candidates) > 0 {
			route.Primary = route.Candidates[0]
		}
		out[agent] = route
	}
	return out, nil
}

// CacheTTL returns the configured cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.LLM.Cache.TTLSeconds) * time.Second
}

// HealthCheckInterval returns the periodic health check interval.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.LLM.HealthCheckIntervalSeconds) * time.Second
}

// SweepInterval returns the workflow sweeper interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Workflow.SweepIntervalSeconds) * time.Second
}
