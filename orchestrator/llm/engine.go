// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"peopleflow/platform/shared/logger"
	"peopleflow/platform/usage"
)

// Engine routes completion requests to providers. It resolves a
// request to a concrete provider and model, dispatches with bounded
// retries and a per-attempt timeout, falls back once to the agent
// route's secondary provider on failure, and records one usage metric
// per provider hop. The provider catalog and routes are immutable
// after construction; the engine is safe for concurrent use.
type Engine struct {
	registry        *Registry
	routes          map[string]AgentRoute
	selector        *Selector
	tracker         *latencyTracker
	sink            usage.Sink
	cache           *Cache
	metrics         *Metrics
	failoverEnabled bool
	defaultProvider string
	logger          *log.Logger
}

// EngineOption configures the engine during creation.
type EngineOption func(*Engine)

// WithAgentRoutes sets the agent-to-provider routing map.
func WithAgentRoutes(routes map[string]AgentRoute) EngineOption {
	return func(e *Engine) {
		e.routes = routes
	}
}

// WithSink sets the usage metrics sink.
func WithSink(sink usage.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithCache sets the completion response cache.
func WithCache(cache *Cache) EngineOption {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithFailover enables or disables the single fallback hop.
func WithFailover(enabled bool) EngineOption {
	return func(e *Engine) {
		e.failoverEnabled = enabled
	}
}

// WithDefaultProvider sets the global default used when neither an
// explicit provider nor an agent route applies.
func WithDefaultProvider(name string) EngineOption {
	return func(e *Engine) {
		e.defaultProvider = name
	}
}

// WithStrategy sets the load-balancing strategy for multi-candidate
// agent routes.
func WithStrategy(strategy RoutingStrategy) EngineOption {
	return func(e *Engine) {
		e.selector = NewSelector(strategy, e.registry, e.tracker)
	}
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a routing engine over the given registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:        registry,
		routes:          make(map[string]AgentRoute),
		tracker:         newLatencyTracker(),
		sink:            usage.NewMemorySink(),
		failoverEnabled: true,
		logger:          logger.Prefixed("LLM_ROUTER"),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.selector == nil {
		e.selector = NewSelector(RoutingStrategyRoundRobin, e.registry, e.tracker)
	}

	return e
}

// Resolution is the outcome of routing a request: the concrete
// provider and model that will serve it.
type Resolution struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Resolve maps a request to a concrete provider and model without
// dispatching. An explicit provider on the request wins; otherwise the
// agent route decides; otherwise the global default provider.
func (e *Engine) Resolve(req CompletionRequest) (Resolution, error) {
	if req.Provider != "" {
		return e.resolveExplicit(req.Provider, req.Model)
	}

	if route, ok := e.routes[req.Agent]; ok && req.Agent != "" {
		pm := route.Primary
		if len(route.Candidates) > 1 {
			pm = e.selector.Select(req.Agent, route.Candidates)
		}
		return e.resolvePair(pm, req.Model)
	}

	if e.defaultProvider == "" {
		return Resolution{}, &ProviderNotFoundError{Provider: "(default)"}
	}
	return e.resolveExplicit(e.defaultProvider, req.Model)
}

func (e *Engine) resolveExplicit(provider, modelOverride string) (Resolution, error) {
	config, ok := e.registry.GetConfig(provider)
	if !ok || !config.Enabled {
		return Resolution{}, &ProviderNotFoundError{Provider: provider}
	}

	model := config.DefaultModel
	if modelOverride != "" {
		model = modelOverride
	}
	if !config.HasModel(model) {
		return Resolution{}, &ModelNotFoundError{Provider: provider, Model: model}
	}

	return Resolution{Provider: provider, Model: model}, nil
}

func (e *Engine) resolvePair(pm ProviderModel, modelOverride string) (Resolution, error) {
	config, ok := e.registry.GetConfig(pm.Provider)
	if !ok || !config.Enabled {
		return Resolution{}, &ProviderNotFoundError{Provider: pm.Provider}
	}

	model := pm.Model
	if modelOverride != "" {
		model = modelOverride
	}
	if model == "" {
		model = config.DefaultModel
	}
	if !config.HasModel(model) {
		return Resolution{}, &ModelNotFoundError{Provider: pm.Provider, Model: model}
	}

	return Resolution{Provider: pm.Provider, Model: model}, nil
}

// checkDispatchable verifies the resolved provider and model declare
// the capability the request shape needs. Runs before dispatch so an
// unsupported request fails fast instead of mid-call.
func (e *Engine) checkDispatchable(res Resolution, need Capability) error {
	config, ok := e.registry.GetConfig(res.Provider)
	if !ok {
		return &ProviderNotFoundError{Provider: res.Provider}
	}

	spec := config.Models[res.Model]
	if len(spec.Capabilities) > 0 && !spec.Supports(need) {
		return &ValidationError{
			Field:   "type",
			Message: "model " + res.Model + " does not support " + string(need),
		}
	}

	provider, err := e.registry.Get(res.Provider)
	if err != nil {
		return err
	}
	if len(provider.Capabilities()) > 0 && !Supports(provider, need) {
		return &ValidationError{
			Field:   "type",
			Message: "provider " + res.Provider + " does not support " + string(need),
		}
	}
	return nil
}

// Complete resolves and dispatches the request, retrying once against
// the agent route's fallback provider when the primary hop fails and
// failover is enabled. Exhausting primary and fallback yields an
// *LLMError carrying the last underlying cause.
func (e *Engine) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		e.logger.Printf("validation_failed: %v", err)
		return nil, err
	}

	res, err := e.Resolve(req)
	if err != nil {
		return nil, err
	}

	need := requiredCapability(req.Type)
	if err := e.checkDispatchable(res, need); err != nil {
		return nil, err
	}

	if cached := e.cache.Get(ctx, req, res.Provider, res.Model); cached != nil {
		e.metrics.observeCacheHit()
		return cached, nil
	}

	resp, primaryErr := e.attempt(ctx, req, res)
	if primaryErr == nil {
		e.cache.Set(ctx, req, res.Provider, res.Model, resp)
		return resp, nil
	}

	fb, ok := e.fallbackFor(req, res)
	if !ok {
		return nil, &LLMError{
			Provider: res.Provider,
			Model:    res.Model,
			Message:  primaryErr.Error(),
			Cause:    primaryErr,
		}
	}

	e.logger.Printf("Failing over from %s to %s", res.Provider, fb.Provider)
	e.metrics.observeFallback()

	resp, fallbackErr := e.attempt(ctx, req, fb)
	if fallbackErr != nil {
		return nil, &LLMError{
			Provider: fb.Provider,
			Model:    fb.Model,
			Message:  fallbackErr.Error(),
			Cause:    fallbackErr,
		}
	}

	e.cache.Set(ctx, req, fb.Provider, fb.Model, resp)
	return resp, nil
}

// fallbackFor returns the validated fallback resolution for the
// request's agent route, if failover applies. A fallback that points
// at the failed provider, at a disabled provider, or at a model
// missing the required capability is not used.
func (e *Engine) fallbackFor(req CompletionRequest, failed Resolution) (Resolution, bool) {
	if !e.failoverEnabled {
		return Resolution{}, false
	}

	route, ok := e.routes[req.Agent]
	if !ok || route.Fallback.IsZero() {
		return Resolution{}, false
	}
	if route.Fallback.Provider == failed.Provider {
		return Resolution{}, false
	}

	res, err := e.resolvePair(route.Fallback, "")
	if err != nil {
		e.logger.Printf("fallback route unusable: %v", err)
		return Resolution{}, false
	}
	if err := e.checkDispatchable(res, requiredCapability(req.Type)); err != nil {
		e.logger.Printf("fallback route unusable: %v", err)
		return Resolution{}, false
	}
	return res, true
}

// attempt performs one provider hop: up to the provider's bounded
// retry count against a single provider, one usage metric recorded for
// the hop's final outcome.
func (e *Engine) attempt(ctx context.Context, req CompletionRequest, res Resolution) (*CompletionResponse, error) {
	provider, err := e.registry.Get(res.Provider)
	if err != nil {
		return nil, err
	}
	config, _ := e.registry.GetConfig(res.Provider)
	spec := config.Models[res.Model]

	hopReq := req
	hopReq.Model = res.Model
	hopReq.Provider = res.Provider

	start := time.Now()
	var lastErr error

	for i := 0; i < config.Retries(); i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, config.Timeout())
		resp, err := provider.Complete(attemptCtx, hopReq)
		cancel()

		if err == nil {
			duration := time.Since(start)
			if resp.Model == "" {
				resp.Model = res.Model
			}
			resp.Provider = res.Provider
			resp.Cost = spec.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			resp.Duration = duration

			e.tracker.recordSuccess(res.Provider, duration)
			e.metrics.observeAttempt(res.Provider, res.Model, true, duration.Seconds())
			e.metrics.observeUsage(res.Provider, res.Model, resp.Usage, resp.Cost)
			e.recordMetric(req, res, resp, nil, duration)
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}

	duration := time.Since(start)
	e.tracker.recordError(res.Provider)
	e.metrics.observeAttempt(res.Provider, res.Model, false, duration.Seconds())
	e.recordMetric(req, res, nil, lastErr, duration)
	return nil, lastErr
}

// isRetryable reports whether an in-provider retry may help.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// recordMetric appends one usage metric for a provider hop. Recording
// is best-effort: sink failures are logged and never propagated to the
// in-flight completion.
func (e *Engine) recordMetric(req CompletionRequest, res Resolution, resp *CompletionResponse, attemptErr error, duration time.Duration) {
	m := usage.Metric{
		Provider:    res.Provider,
		Model:       res.Model,
		RequestType: string(req.Type),
		Duration:    duration,
		Success:     attemptErr == nil,
		Timestamp:   time.Now().UTC(),
	}
	if resp != nil {
		m.PromptTokens = resp.Usage.PromptTokens
		m.CompletionTokens = resp.Usage.CompletionTokens
		m.TotalTokens = resp.Usage.TotalTokens
		m.Cost = resp.Cost
	}
	if attemptErr != nil {
		m.ErrorType = errorType(attemptErr)
		m.ErrorMessage = attemptErr.Error()
	}

	// Detached context: the metric write must survive request
	// cancellation and must not block on it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 5*time.Second)
	defer cancel()

	if err := e.sink.Record(ctx, m); err != nil {
		e.logger.Printf("usage metric record failed: %v", err)
	}
}

func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "provider_error"
}

// Stream resolves the request and streams the response through the
// handler. Every stream terminates with a "done" chunk on success or
// an "error" chunk on failure; cancellation of the context is observed
// before the next chunk is forwarded.
func (e *Engine) Stream(ctx context.Context, req CompletionRequest, handler StreamHandler) error {
	if err := req.Validate(); err != nil {
		e.logger.Printf("validation_failed: %v", err)
		return err
	}

	res, err := e.Resolve(req)
	if err != nil {
		return err
	}
	if err := e.checkDispatchable(res, requiredCapability(req.Type)); err != nil {
		return err
	}
	if err := e.checkDispatchable(res, CapabilityStreaming); err != nil {
		return err
	}

	provider, err := e.registry.Get(res.Provider)
	if err != nil {
		return err
	}
	streamer, ok := provider.(StreamingProvider)
	if !ok {
		return &ValidationError{
			Field:   "provider",
			Message: "provider " + res.Provider + " does not implement streaming",
		}
	}

	config, _ := e.registry.GetConfig(res.Provider)
	spec := config.Models[res.Model]

	hopReq := req
	hopReq.Model = res.Model
	hopReq.Provider = res.Provider

	streamCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()

	start := time.Now()
	resp, streamErr := streamer.CompleteStream(streamCtx, hopReq, func(chunk StreamChunk) error {
		// Consumer cancellation interrupts the producer before the
		// next chunk is emitted.
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk.Type == "" {
			chunk.Type = ChunkTypeContent
		}
		chunk.Provider = res.Provider
		if chunk.Model == "" {
			chunk.Model = res.Model
		}
		return handler(chunk)
	})
	duration := time.Since(start)

	if streamErr != nil {
		e.tracker.recordError(res.Provider)
		e.metrics.observeAttempt(res.Provider, res.Model, false, duration.Seconds())
		e.recordMetric(req, res, nil, streamErr, duration)

		// Surface the failure on the chunk channel, then end the
		// stream; the consumer must never see a silent stop.
		_ = handler(StreamChunk{
			Type:     ChunkTypeError,
			Provider: res.Provider,
			Model:    res.Model,
			Error:    streamErr.Error(),
			Done:     true,
		})
		return &LLMError{
			Provider: res.Provider,
			Model:    res.Model,
			Message:  streamErr.Error(),
			Cause:    streamErr,
		}
	}

	if resp != nil {
		resp.Provider = res.Provider
		if resp.Model == "" {
			resp.Model = res.Model
		}
		resp.Cost = spec.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		resp.Duration = duration
		e.metrics.observeUsage(res.Provider, res.Model, resp.Usage, resp.Cost)
		e.recordMetric(req, res, resp, nil, duration)
	}
	e.tracker.recordSuccess(res.Provider, duration)
	e.metrics.observeAttempt(res.Provider, res.Model, true, duration.Seconds())

	return handler(StreamChunk{
		Type:     ChunkTypeDone,
		Provider: res.Provider,
		Model:    res.Model,
		Done:     true,
	})
}

// HealthCheck probes every enabled provider. A failing probe reports
// that provider unhealthy without aborting the scan.
func (e *Engine) HealthCheck(ctx context.Context) map[string]*HealthCheckResult {
	return e.registry.HealthCheck(ctx)
}

// ProvidersStatus summarizes all registered providers, their catalogs
// and last known health.
func (e *Engine) ProvidersStatus() []ProviderStatus {
	names := e.registry.List()
	statuses := make([]ProviderStatus, 0, len(names))

	for _, name := range names {
		config, ok := e.registry.GetConfig(name)
		if !ok {
			continue
		}

		status := ProviderStatus{
			Name:         name,
			Type:         config.Type,
			Enabled:      config.Enabled,
			DefaultModel: config.DefaultModel,
		}

		capSet := make(map[Capability]bool)
		for model, spec := range config.Models {
			status.Models = append(status.Models, model)
			for _, c := range spec.Capabilities {
				capSet[c] = true
			}
		}
		sort.Strings(status.Models)
		for c := range capSet {
			status.Capabilities = append(status.Capabilities, c)
		}
		sort.Slice(status.Capabilities, func(i, j int) bool {
			return status.Capabilities[i] < status.Capabilities[j]
		})

		if health := e.registry.GetHealthResult(name); health != nil {
			status.Health = health
			status.Healthy = health.Status == HealthStatusHealthy
		}

		statuses = append(statuses, status)
	}
	return statuses
}

// UsageStatistics aggregates usage over the trailing number of days.
func (e *Engine) UsageStatistics(ctx context.Context, days int) (usage.Aggregate, error) {
	return e.sink.Aggregate(ctx, usage.Filter{Since: daysAgo(days)})
}

// CostAnalysis aggregates usage per enabled provider over the trailing
// number of days.
func (e *Engine) CostAnalysis(ctx context.Context, days int) (map[string]usage.Aggregate, error) {
	since := daysAgo(days)
	out := make(map[string]usage.Aggregate)

	for _, name := range e.registry.ListEnabled() {
		agg, err := e.sink.Aggregate(ctx, usage.Filter{Provider: name, Since: since})
		if err != nil {
			return nil, err
		}
		out[name] = agg
	}
	return out, nil
}

func daysAgo(days int) time.Time {
	if days <= 0 {
		days = 1
	}
	return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}
