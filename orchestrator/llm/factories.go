// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"peopleflow/platform/orchestrator/llm/anthropic"
	"peopleflow/platform/orchestrator/llm/bedrock"
	"peopleflow/platform/orchestrator/llm/google"
	"peopleflow/platform/orchestrator/llm/ollama"
	"peopleflow/platform/orchestrator/llm/openaicompat"
)

// DefaultFactories returns the built-in provider factories keyed by
// provider type. Pass the result to WithFactories when creating the
// registry; replace or extend entries to plug in custom backends.
func DefaultFactories() map[ProviderType]Factory {
	return map[ProviderType]Factory{
		ProviderTypeOpenAI:    NewOpenAIProvider,
		ProviderTypeMistral:   NewMistralProvider,
		ProviderTypeAnthropic: NewAnthropicProvider,
		ProviderTypeGoogle:    NewGoogleProvider,
		ProviderTypeOllama:    NewOllamaProvider,
		ProviderTypeBedrock:   NewBedrockProvider,
	}
}

// statusToCode maps an HTTP status from a vendor API to the common
// provider error code taxonomy.
func statusToCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeAuth
	case status == http.StatusServiceUnavailable:
		return ErrCodeUnavailable
	case status >= 500:
		return ErrCodeServerError
	case status >= 400:
		return ErrCodeInvalidRequest
	default:
		return ErrCodeServerError
	}
}

// wrapVendorError normalizes a vendor client error into a
// ProviderError so the engine's retry and failover logic can act on it.
func wrapVendorError(provider string, statusCode int, err error) *ProviderError {
	code := ErrCodeServerError
	if statusCode > 0 {
		code = statusToCode(statusCode)
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = ErrCodeTimeout
	}
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    err.Error(),
		StatusCode: statusCode,
		Retryable:  isRetryableCode(code),
		Cause:      err,
	}
}

// probeResult builds a HealthCheckResult from a probe outcome.
func probeResult(start time.Time, err error) (*HealthCheckResult, error) {
	result := &HealthCheckResult{
		Status:      HealthStatusHealthy,
		Latency:     time.Since(start),
		LastChecked: time.Now(),
	}
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Message = err.Error()
	}
	return result, err
}

func jsonMarshalString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// chatMessages renders the unified request as role/content turns. A
// completion-shaped request becomes a single user turn; the system
// prompt is returned separately for vendors that carry it out of band.
func chatMessages(req CompletionRequest) (system string, turns []Message) {
	if req.Type == RequestTypeCompletion {
		return req.SystemPrompt, []Message{{Role: RoleUser, Content: req.Prompt}}
	}

	turns = make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}

// ---------------------------------------------------------------------------
// OpenAI and Mistral (shared wire protocol)
// ---------------------------------------------------------------------------

type openAIProvider struct {
	name   string
	ptype  ProviderType
	client *openaicompat.Client
	caps   []Capability
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", config.Name)
	}
	return &openAIProvider{
		name:   config.Name,
		ptype:  ProviderTypeOpenAI,
		client: openaicompat.NewClient(config.Endpoint, config.APIKey, config.Timeout()),
		caps: []Capability{
			CapabilityChat, CapabilityCompletion,
			CapabilityStreaming, CapabilityFunctionCalling,
		},
	}, nil
}

// NewMistralProvider creates a provider for the Mistral API, which is
// OpenAI-compatible on the wire.
func NewMistralProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", config.Name)
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = openaicompat.MistralBaseURL
	}
	return &openAIProvider{
		name:   config.Name,
		ptype:  ProviderTypeMistral,
		client: openaicompat.NewClient(endpoint, config.APIKey, config.Timeout()),
		caps: []Capability{
			CapabilityChat, CapabilityCompletion,
			CapabilityStreaming, CapabilityFunctionCalling,
		},
	}, nil
}

func (p *openAIProvider) Name() string               { return p.name }
func (p *openAIProvider) Type() ProviderType         { return p.ptype }
func (p *openAIProvider) Capabilities() []Capability { return p.caps }
func (p *openAIProvider) SupportsStreaming() bool    { return true }

func (p *openAIProvider) buildRequest(req CompletionRequest) openaicompat.ChatRequest {
	system, turns := chatMessages(req)

	out := openaicompat.ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if system != "" {
		out.Messages = append(out.Messages, openaicompat.Message{Role: RoleSystem, Content: system})
	}
	for _, m := range turns {
		out.Messages = append(out.Messages, openaicompat.Message{Role: m.Role, Content: m.Content})
	}
	for _, f := range req.Functions {
		out.Functions = append(out.Functions, openaicompat.Function{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  f.Parameters,
		})
	}
	return out
}

func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.client.Chat(ctx, p.buildRequest(req))
	if err != nil {
		var apiErr *openaicompat.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapVendorError(p.name, apiErr.StatusCode, err)
		}
		return nil, wrapVendorError(p.name, 0, err)
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if choice.Message.FunctionCall != nil {
		out.FunctionCall = &FunctionCall{
			Name:      choice.Message.FunctionCall.Name,
			Arguments: choice.Message.FunctionCall.Arguments,
		}
	}
	return out, nil
}

func (p *openAIProvider) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	var finishReason string

	err := p.client.ChatStream(ctx, p.buildRequest(req), func(delta openaicompat.StreamDelta) error {
		if delta.FinishReason != "" {
			finishReason = delta.FinishReason
		}
		if delta.Content == "" {
			return nil
		}
		return handler(StreamChunk{Type: ChunkTypeContent, Content: delta.Content})
	})
	if err != nil {
		var apiErr *openaicompat.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapVendorError(p.name, apiErr.StatusCode, err)
		}
		return nil, wrapVendorError(p.name, 0, err)
	}

	// Streaming responses do not reliably carry usage on this
	// protocol; token counts stay zero.
	return &CompletionResponse{Model: req.Model, FinishReason: finishReason}, nil
}

func (p *openAIProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	start := time.Now()
	_, err := p.client.Models(ctx)
	return probeResult(start, err)
}

// ---------------------------------------------------------------------------
// Anthropic
// ---------------------------------------------------------------------------

type anthropicProvider struct {
	name         string
	client       *anthropic.Client
	defaultModel string
}

// NewAnthropicProvider creates a provider for the Anthropic Messages
// API.
func NewAnthropicProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", config.Name)
	}
	return &anthropicProvider{
		name:         config.Name,
		client:       anthropic.NewClient(config.Endpoint, config.APIKey, config.Timeout()),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *anthropicProvider) Name() string       { return p.name }
func (p *anthropicProvider) Type() ProviderType { return ProviderTypeAnthropic }
func (p *anthropicProvider) Capabilities() []Capability {
	return []Capability{
		CapabilityChat, CapabilityCompletion,
		CapabilityStreaming, CapabilityFunctionCalling, CapabilityLongContext,
	}
}
func (p *anthropicProvider) SupportsStreaming() bool { return true }

func (p *anthropicProvider) buildRequest(req CompletionRequest) anthropic.MessagesRequest {
	system, turns := chatMessages(req)

	out := anthropic.MessagesRequest{
		Model:       req.Model,
		System:      system,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range turns {
		out.Messages = append(out.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	for _, f := range req.Functions {
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        f.Name,
			Description: f.Description,
			InputSchema: f.Parameters,
		})
	}
	return out
}

func (p *anthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.client.Messages(ctx, p.buildRequest(req))
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapVendorError(p.name, apiErr.StatusCode, err)
		}
		return nil, wrapVendorError(p.name, 0, err)
	}

	out := &CompletionResponse{
		Content:      resp.Text(),
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage: UsageStats{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	if tool := resp.ToolUse(); tool != nil {
		args, _ := jsonMarshalString(tool.Input)
		out.FunctionCall = &FunctionCall{Name: tool.Name, Arguments: args}
	}
	return out, nil
}

func (p *anthropicProvider) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	var stopReason string

	err := p.client.MessagesStream(ctx, p.buildRequest(req), func(delta anthropic.StreamDelta) error {
		if delta.StopReason != "" {
			stopReason = delta.StopReason
		}
		if delta.Content == "" {
			return nil
		}
		return handler(StreamChunk{Type: ChunkTypeContent, Content: delta.Content})
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapVendorError(p.name, apiErr.StatusCode, err)
		}
		return nil, wrapVendorError(p.name, 0, err)
	}
	return &CompletionResponse{Model: req.Model, FinishReason: stopReason}, nil
}

func (p *anthropicProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	start := time.Now()
	probe := anthropic.MessagesRequest{
		Model:     p.defaultModel,
		Messages:  []anthropic.Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := p.client.Messages(ctx, probe)
	return probeResult(start, err)
}

// ---------------------------------------------------------------------------
// Google Gemini
// ---------------------------------------------------------------------------

type googleProvider struct {
	name         string
	client       *google.Client
	defaultModel string
}

// NewGoogleProvider creates a provider for the Gemini API.
func NewGoogleProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", config.Name)
	}
	return &googleProvider{
		name:         config.Name,
		client:       google.NewClient(config.Endpoint, config.APIKey, config.Timeout()),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *googleProvider) Name() string       { return p.name }
func (p *googleProvider) Type() ProviderType { return ProviderTypeGoogle }
func (p *googleProvider) Capabilities() []Capability {
	return []Capability{CapabilityChat, CapabilityCompletion, CapabilityLongContext}
}
func (p *googleProvider) SupportsStreaming() bool { return false }

func (p *googleProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	system, turns := chatMessages(req)

	greq := google.GenerateRequest{
		GenerationConfig: &google.GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if system != "" {
		greq.SystemInstruction = &google.Content{Parts: []google.Part{{Text: system}}}
	}
	for _, m := range turns {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		greq.Contents = append(greq.Contents, google.Content{
			Role:  role,
			Parts: []google.Part{{Text: m.Content}},
		})
	}

	resp, err := p.client.Generate(ctx, req.Model, greq)
	if err != nil {
		var apiErr *google.APIError
		if errors.As(err, &apiErr) {
			return nil, wrapVendorError(p.name, apiErr.StatusCode, err)
		}
		return nil, wrapVendorError(p.name, 0, err)
	}

	return &CompletionResponse{
		Content:      resp.Text(),
		Model:        req.Model,
		FinishReason: resp.FinishReason(),
		Usage: UsageStats{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (p *googleProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	start := time.Now()
	probe := google.GenerateRequest{
		Contents:         []google.Content{{Role: "user", Parts: []google.Part{{Text: "ping"}}}},
		GenerationConfig: &google.GenerationConfig{MaxOutputTokens: 1},
	}
	_, err := p.client.Generate(ctx, p.defaultModel, probe)
	return probeResult(start, err)
}

// ---------------------------------------------------------------------------
// Ollama (self-hosted)
// ---------------------------------------------------------------------------

type ollamaProvider struct {
	name   string
	client *ollama.Client
}

// NewOllamaProvider creates a provider for a self-hosted Ollama server.
// No API key is required.
func NewOllamaProvider(config ProviderConfig) (Provider, error) {
	return &ollamaProvider{
		name:   config.Name,
		client: ollama.NewClient(config.Endpoint, config.Timeout()),
	}, nil
}

func (p *ollamaProvider) Name() string       { return p.name }
func (p *ollamaProvider) Type() ProviderType { return ProviderTypeOllama }
func (p *ollamaProvider) Capabilities() []Capability {
	return []Capability{CapabilityChat, CapabilityCompletion, CapabilityStreaming}
}
func (p *ollamaProvider) SupportsStreaming() bool { return true }

func (p *ollamaProvider) buildRequest(req CompletionRequest) ollama.ChatRequest {
	system, turns := chatMessages(req)

	out := ollama.ChatRequest{Model: req.Model}
	if req.Temperature != 0 || req.MaxTokens != 0 {
		out.Options = &ollama.Options{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	if system != "" {
		out.Messages = append(out.Messages, ollama.Message{Role: RoleSystem, Content: system})
	}
	for _, m := range turns {
		out.Messages = append(out.Messages, ollama.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *ollamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.client.Chat(ctx, p.buildRequest(req))
	if err != nil {
		return nil, wrapVendorError(p.name, 0, err)
	}

	return &CompletionResponse{
		Content:      resp.Message.Content,
		Model:        resp.Model,
		FinishReason: resp.DoneReason,
		Usage: UsageStats{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (p *ollamaProvider) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	final := &CompletionResponse{Model: req.Model}

	err := p.client.ChatStream(ctx, p.buildRequest(req), func(chunk ollama.ChatResponse) error {
		if chunk.Done {
			final.FinishReason = chunk.DoneReason
			final.Usage = UsageStats{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			return nil
		}
		if chunk.Message.Content == "" {
			return nil
		}
		return handler(StreamChunk{Type: ChunkTypeContent, Content: chunk.Message.Content})
	})
	if err != nil {
		return nil, wrapVendorError(p.name, 0, err)
	}
	return final, nil
}

func (p *ollamaProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	start := time.Now()
	err := p.client.Ping(ctx)
	return probeResult(start, err)
}

// ---------------------------------------------------------------------------
// AWS Bedrock
// ---------------------------------------------------------------------------

type bedrockProvider struct {
	name         string
	client       *bedrock.Client
	defaultModel string
}

// NewBedrockProvider creates a provider for AWS Bedrock using the
// default credential chain and the configured region.
func NewBedrockProvider(config ProviderConfig) (Provider, error) {
	if config.Region == "" {
		return nil, fmt.Errorf("provider %s: region is required", config.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := bedrock.NewClient(ctx, config.Region)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", config.Name, err)
	}
	return &bedrockProvider{
		name:         config.Name,
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *bedrockProvider) Name() string       { return p.name }
func (p *bedrockProvider) Type() ProviderType { return ProviderTypeBedrock }
func (p *bedrockProvider) Capabilities() []Capability {
	return []Capability{CapabilityChat, CapabilityCompletion}
}
func (p *bedrockProvider) SupportsStreaming() bool { return false }

func (p *bedrockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	system, turns := chatMessages(req)

	breq := bedrock.ChatRequest{
		System:      system,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range turns {
		breq.Messages = append(breq.Messages, bedrock.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := p.client.Chat(ctx, req.Model, breq)
	if err != nil {
		return nil, wrapVendorError(p.name, 0, err)
	}

	return &CompletionResponse{
		Content:      resp.Content,
		Model:        req.Model,
		FinishReason: resp.StopReason,
		Usage: UsageStats{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		},
	}, nil
}

func (p *bedrockProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	start := time.Now()
	probe := bedrock.ChatRequest{
		Messages:  []bedrock.Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := p.client.Chat(ctx, p.defaultModel, probe)
	return probeResult(start, err)
}

// Interface compliance checks.
var (
	_ StreamingProvider = (*openAIProvider)(nil)
	_ StreamingProvider = (*anthropicProvider)(nil)
	_ Provider          = (*googleProvider)(nil)
	_ StreamingProvider = (*ollamaProvider)(nil)
	_ Provider          = (*bedrockProvider)(nil)
)
