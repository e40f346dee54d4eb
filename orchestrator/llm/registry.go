// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"peopleflow/platform/shared/logger"
)

// Registry holds the provider catalog. Configurations are immutable
// after startup; provider instances are created lazily on first use.
// Health state is the only part mutated at runtime, by the periodic
// health check. The registry is safe for concurrent use.
type Registry struct {
	configs   map[string]*ProviderConfig
	providers map[string]Provider
	factories map[ProviderType]Factory
	order     []string // registration order, used for strategy tie-breaks
	logger    *log.Logger
	mu        sync.RWMutex

	healthResults map[string]*HealthCheckResult
	healthMu      sync.RWMutex
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFactories sets the provider factories keyed by type.
func WithFactories(factories map[ProviderType]Factory) RegistryOption {
	return func(r *Registry) {
		for t, f := range factories {
			r.factories[t] = f
		}
	}
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		configs:       make(map[string]*ProviderConfig),
		providers:     make(map[string]Provider),
		factories:     make(map[ProviderType]Factory),
		healthResults: make(map[string]*HealthCheckResult),
		logger:        logger.Prefixed("LLM_REGISTRY"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a provider configuration. The provider instance is
// created lazily on first Get. Registering a duplicate name fails.
func (r *Registry) Register(config ProviderConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[config.Name]; exists {
		return fmt.Errorf("provider %q already registered", config.Name)
	}

	configCopy := config
	r.configs[config.Name] = &configCopy
	r.order = append(r.order, config.Name)

	r.logger.Printf("Registered provider config: %s (type: %s, models: %d)",
		config.Name, config.Type, len(config.Models))
	return nil
}

// RegisterProvider adds a pre-instantiated provider together with its
// configuration. Used by tests and embedded deployments.
func (r *Registry) RegisterProvider(provider Provider, config ProviderConfig) error {
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[config.Name]; exists {
		return fmt.Errorf("provider %q already registered", config.Name)
	}

	configCopy := config
	r.configs[config.Name] = &configCopy
	r.providers[config.Name] = provider
	r.order = append(r.order, config.Name)

	r.logger.Printf("Registered provider instance: %s (type: %s)", config.Name, provider.Type())
	return nil
}

// Get returns the provider instance for an enabled provider,
// instantiating it lazily if needed. Unknown or disabled providers
// yield a *ProviderNotFoundError.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	config, hasConfig := r.configs[name]
	provider, hasProvider := r.providers[name]
	r.mu.RUnlock()

	if !hasConfig || !config.Enabled {
		return nil, &ProviderNotFoundError{Provider: name}
	}
	if hasProvider {
		return provider, nil
	}

	return r.lazyInstantiate(name, config)
}

func (r *Registry) lazyInstantiate(name string, config *ProviderConfig) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another goroutine may have created it.
	if provider, exists := r.providers[name]; exists {
		return provider, nil
	}

	factory, ok := r.factories[config.Type]
	if !ok {
		return nil, fmt.Errorf("no factory registered for provider type %q", config.Type)
	}

	provider, err := factory(*config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
	}

	r.providers[name] = provider
	r.logger.Printf("Instantiated provider: %s", name)
	return provider, nil
}

// GetConfig returns a copy of the provider's configuration regardless
// of its enabled state.
func (r *Registry) GetConfig(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	if !ok {
		return ProviderConfig{}, false
	}
	return *config, true
}

// List returns all registered provider names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ListEnabled returns enabled provider names in registration order.
func (r *Registry) ListEnabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, name := range r.order {
		if r.configs[name].Enabled {
			names = append(names, name)
		}
	}
	return names
}

// RegistrationIndex returns the position of a provider in registration
// order, used by routing strategies to break ties deterministically.
// Unknown providers sort last.
func (r *Registry) RegistrationIndex(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return len(r.order)
}

// Has reports whether a provider is registered (enabled or not).
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[name]
	return ok
}

// HealthCheck probes every enabled provider. A failing probe is
// isolated: it marks that provider unhealthy and never aborts the scan.
func (r *Registry) HealthCheck(ctx context.Context) map[string]*HealthCheckResult {
	names := r.ListEnabled()
	results := make(map[string]*HealthCheckResult, len(names))

	for _, name := range names {
		results[name] = r.healthCheckOne(ctx, name)
	}

	return results
}

func (r *Registry) healthCheckOne(ctx context.Context, name string) *HealthCheckResult {
	start := time.Now()

	provider, err := r.Get(name)
	if err != nil {
		result := &HealthCheckResult{
			Status:      HealthStatusUnhealthy,
			Latency:     time.Since(start),
			Message:     err.Error(),
			LastChecked: time.Now(),
		}
		r.storeHealth(name, result)
		return result
	}

	result, err := provider.HealthCheck(ctx)
	if err != nil || result == nil {
		msg := "health probe failed"
		if err != nil {
			msg = err.Error()
		}
		result = &HealthCheckResult{
			Status:      HealthStatusUnhealthy,
			Latency:     time.Since(start),
			Message:     msg,
			LastChecked: time.Now(),
		}
	}
	if result.LastChecked.IsZero() {
		result.LastChecked = time.Now()
	}

	r.storeHealth(name, result)
	return result
}

func (r *Registry) storeHealth(name string, result *HealthCheckResult) {
	r.healthMu.Lock()
	r.healthResults[name] = result
	r.healthMu.Unlock()
}

// GetHealthResult returns the cached health result for a provider, or
// nil if it has never been probed.
func (r *Registry) GetHealthResult(name string) *HealthCheckResult {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()
	return r.healthResults[name]
}

// HealthyProviders returns the names of providers whose last probe was
// healthy, sorted for stable output.
func (r *Registry) HealthyProviders() []string {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()

	var names []string
	for name, result := range r.healthResults {
		if result != nil && result.Status == HealthStatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// StartPeriodicHealthCheck launches a background goroutine that probes
// all enabled providers on the given interval until the context is
// cancelled.
func (r *Registry) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	r.logger.Printf("Starting periodic health check (every %v)", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Println("Stopping periodic health check")
				return
			case <-ticker.C:
				results := r.HealthCheck(ctx)
				unhealthy := 0
				for _, result := range results {
					if result.Status != HealthStatusHealthy {
						unhealthy++
					}
				}
				if unhealthy > 0 {
					r.logger.Printf("Health check: %d of %d providers unhealthy", unhealthy, len(results))
				}
			}
		}
	}()
}
