// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the unified interface for all LLM backends.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	Name() string

	// Type returns the provider type (e.g. "openai", "anthropic").
	Type() ProviderType

	// Complete generates a completion for the given request. The
	// context carries the per-attempt timeout and cancellation.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck performs a lightweight availability probe.
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)

	// Capabilities returns the provider-level feature set.
	Capabilities() []Capability

	// SupportsStreaming reports whether the provider also implements
	// StreamingProvider.
	SupportsStreaming() bool
}

// StreamingProvider extends Provider with streaming support.
type StreamingProvider interface {
	Provider

	// CompleteStream generates a streaming completion, invoking the
	// handler once per chunk. The final aggregated response is
	// returned once the stream terminates.
	CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error)
}

// Supports reports whether the provider declares the given capability.
func Supports(p Provider, c Capability) bool {
	for _, have := range p.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

// Default dispatch bounds applied when the provider config leaves them
// unset.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 2
)

// ProviderConfig describes one provider entry in the static
// configuration. It is immutable after process start; only health state
// changes at runtime.
type ProviderConfig struct {
	// Name is the unique identifier used for routing ("openai",
	// "anthropic-eu", ...).
	Name string `json:"name"`

	// Type identifies the implementation to instantiate.
	Type ProviderType `json:"type"`

	// Enabled gates the provider for routing decisions.
	Enabled bool `json:"enabled"`

	// APIKey is the authentication credential.
	APIKey string `json:"api_key,omitempty"`

	// APIKeySecretARN optionally names an AWS Secrets Manager secret
	// that is resolved into APIKey at startup.
	APIKeySecretARN string `json:"api_key_secret_arn,omitempty"`

	// Endpoint is the base API URL. Empty means the vendor default.
	Endpoint string `json:"endpoint,omitempty"`

	// Region is the cloud region for managed backends (Bedrock).
	Region string `json:"region,omitempty"`

	// DefaultModel is used when a request names no model.
	DefaultModel string `json:"default_model"`

	// Models is the per-model catalog with rate tables and
	// capabilities.
	Models map[string]ModelSpec `json:"models"`

	// TimeoutSeconds bounds each dispatch attempt. 0 means
	// DefaultTimeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// MaxRetries bounds attempts per provider per request. 0 means
	// DefaultMaxRetries.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Timeout returns the per-attempt timeout for this provider.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retries returns the bounded attempt count for this provider.
func (c ProviderConfig) Retries() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// HasModel reports whether the model is in this provider's catalog.
func (c ProviderConfig) HasModel(model string) bool {
	_, ok := c.Models[model]
	return ok
}

// Validate checks structural requirements of the config.
func (c ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("provider %q: type is required", c.Name)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("provider %q: model catalog must not be empty", c.Name)
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("provider %q: default model is required", c.Name)
	}
	if !c.HasModel(c.DefaultModel) {
		return fmt.Errorf("provider %q: default model %q not in catalog", c.Name, c.DefaultModel)
	}
	for model, spec := range c.Models {
		if spec.InputCostPer1K < 0 || spec.OutputCostPer1K < 0 {
			return fmt.Errorf("provider %q: model %q has negative cost rates", c.Name, model)
		}
	}
	return nil
}

// Factory creates a Provider from its configuration.
type Factory func(config ProviderConfig) (Provider, error)
