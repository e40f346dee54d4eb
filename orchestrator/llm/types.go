// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package llm provides the multi-provider LLM routing engine used by
// PeopleFlow. It defines the unified request/response types, the
// provider registry, and the router that resolves a completion request
// to a concrete provider and model with fallback and cost tracking.
package llm

import (
	"fmt"
	"time"
)

// ProviderType identifies the kind of LLM backend.
// Standard types are defined as constants, but custom types can be used
// for third-party or self-hosted providers.
type ProviderType string

// Standard provider types supported out of the box.
const (
	// ProviderTypeOpenAI represents OpenAI's GPT models.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeAnthropic represents Anthropic's Claude models.
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeGoogle represents Google's Gemini models.
	ProviderTypeGoogle ProviderType = "google"

	// ProviderTypeMistral represents Mistral's models (OpenAI-compatible API).
	ProviderTypeMistral ProviderType = "mistral"

	// ProviderTypeOllama represents self-hosted Ollama models.
	ProviderTypeOllama ProviderType = "ollama"

	// ProviderTypeBedrock represents AWS Bedrock managed models.
	ProviderTypeBedrock ProviderType = "bedrock"

	// ProviderTypeCustom represents a custom/third-party provider.
	ProviderTypeCustom ProviderType = "custom"
)

// RequestType identifies the shape of a CompletionRequest.
type RequestType string

const (
	// RequestTypeCompletion is a single-prompt completion.
	RequestTypeCompletion RequestType = "completion"

	// RequestTypeChat is a multi-turn chat completion.
	RequestTypeChat RequestType = "chat"

	// RequestTypeFunctionCall is a chat completion with function schemas.
	RequestTypeFunctionCall RequestType = "function_call"
)

// Message roles accepted in chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FunctionDef describes a callable function exposed to the model.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is the model's request to invoke a function.
type FunctionCall struct {
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload produced by the model.
	Arguments string `json:"arguments"`
}

// CompletionRequest is the unified request type used across all
// providers. It is treated as an immutable value: construct it with one
// of the New*Request helpers, set overrides, then pass it by value.
type CompletionRequest struct {
	// Type is the request shape. Set by the New*Request constructors.
	Type RequestType `json:"type"`

	// Prompt is the user's input for completion-shaped requests.
	Prompt string `json:"prompt,omitempty"`

	// SystemPrompt optionally sets behavior for completion requests.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation for chat and function_call requests.
	Messages []Message `json:"messages,omitempty"`

	// Functions are the callable schemas for function_call requests.
	Functions []FunctionDef `json:"functions,omitempty"`

	// Model overrides the resolved provider's default model.
	Model string `json:"model,omitempty"`

	// Provider explicitly targets a provider, bypassing agent routing.
	Provider string `json:"provider,omitempty"`

	// Agent is the logical use-case name used for agent-route lookup
	// when no explicit provider is given.
	Agent string `json:"agent,omitempty"`

	// Temperature controls randomness. Valid range is 0.0 to 2.0.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response size. 0 means provider default;
	// otherwise the valid range is 1 to 32000.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Metadata carries provider-specific options.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewCompletionRequest builds a completion-shaped request.
func NewCompletionRequest(prompt string) CompletionRequest {
	return CompletionRequest{Type: RequestTypeCompletion, Prompt: prompt}
}

// NewChatRequest builds a chat-shaped request.
func NewChatRequest(messages []Message) CompletionRequest {
	return CompletionRequest{Type: RequestTypeChat, Messages: messages}
}

// NewFunctionCallRequest builds a function-calling request.
func NewFunctionCallRequest(messages []Message, functions []FunctionDef) CompletionRequest {
	return CompletionRequest{Type: RequestTypeFunctionCall, Messages: messages, Functions: functions}
}

// UsageStats tracks token usage for billing and monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the result of a routed completion.
type CompletionResponse struct {
	// Content is the generated text. Empty when the model requested a
	// function call instead.
	Content string `json:"content,omitempty"`

	// FunctionCall is set for function_call requests when the model
	// chose to invoke a function.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	// Model is the model that actually served the request.
	Model string `json:"model"`

	// Provider is the provider that actually served the request.
	Provider string `json:"provider"`

	// Usage contains token counts reported by the provider.
	Usage UsageStats `json:"usage"`

	// Cost is the computed cost in USD for this response.
	Cost float64 `json:"cost"`

	// Duration is the wall-clock time taken to produce the response.
	Duration time.Duration `json:"duration"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	// Metadata carries provider-specific response data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Stream chunk types.
const (
	ChunkTypeContent = "content"
	ChunkTypeDone    = "done"
	ChunkTypeError   = "error"
)

// StreamChunk is a single delta in a streaming response. The stream is
// always terminated deterministically with a chunk of type "done" or
// "error"; a mid-stream provider failure is surfaced as an error chunk
// rather than silently ending the stream.
type StreamChunk struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
	Done     bool   `json:"done"`
}

// StreamHandler is invoked for each stream chunk. Returning an error
// aborts the stream; the underlying provider call is cancelled before
// the next chunk is produced.
type StreamHandler func(chunk StreamChunk) error

// HealthStatus represents the health state of a provider.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheckResult contains detailed health probe information.
type HealthCheckResult struct {
	Status      HealthStatus  `json:"status"`
	Latency     time.Duration `json:"latency"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// Capability represents a feature supported by a provider or model.
type Capability string

const (
	CapabilityChat            Capability = "chat"
	CapabilityCompletion      Capability = "completion"
	CapabilityStreaming       Capability = "streaming"
	CapabilityVision          Capability = "vision"
	CapabilityFunctionCalling Capability = "function_calling"
	CapabilityEmbeddings      Capability = "embeddings"
	CapabilityLongContext     Capability = "long_context"
)

// ModelSpec describes one entry in a provider's model catalog.
type ModelSpec struct {
	// ContextLength is the maximum context window in tokens.
	ContextLength int `json:"context_length"`

	// InputCostPer1K is the USD cost per 1000 prompt tokens.
	InputCostPer1K float64 `json:"input_cost_per_1k"`

	// OutputCostPer1K is the USD cost per 1000 completion tokens.
	OutputCostPer1K float64 `json:"output_cost_per_1k"`

	// Capabilities lists model-level features.
	Capabilities []Capability `json:"capabilities,omitempty"`

	// Local marks self-hosted models, which are billed at zero cost.
	Local bool `json:"local,omitempty"`
}

// Supports reports whether the model declares the given capability.
func (m ModelSpec) Supports(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Cost computes the USD cost for the given token counts using this
// model's rate table. Local models always cost zero.
func (m ModelSpec) Cost(promptTokens, completionTokens int) float64 {
	if m.Local {
		return 0
	}
	return float64(promptTokens)/1000*m.InputCostPer1K +
		float64(completionTokens)/1000*m.OutputCostPer1K
}

// ProviderModel is a provider:model pair used in agent routes.
type ProviderModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ParseProviderModel parses the canonical "provider:model" form.
func ParseProviderModel(s string) (ProviderModel, error) {
	for i := 1; i < len(s)-1; i++ {
		if s[i] == ':' {
			return ProviderModel{Provider: s[:i], Model: s[i+1:]}, nil
		}
	}
	return ProviderModel{}, fmt.Errorf("invalid provider:model reference %q", s)
}

// String returns the canonical "provider:model" form.
func (pm ProviderModel) String() string {
	return pm.Provider + ":" + pm.Model
}

// IsZero reports whether the pair is unset.
func (pm ProviderModel) IsZero() bool {
	return pm.Provider == "" && pm.Model == ""
}

// AgentRoute maps a logical agent/use-case name to its provider:model
// pair, an optional single fallback, and an optional candidate list for
// load-balanced routes.
type AgentRoute struct {
	// Primary is the default provider:model for this agent.
	Primary ProviderModel `json:"primary"`

	// Fallback is retried once when the primary attempt fails.
	Fallback ProviderModel `json:"fallback,omitempty"`

	// Candidates, when it lists more than one pair, is load-balanced by
	// the configured routing strategy instead of using Primary.
	Candidates []ProviderModel `json:"candidates,omitempty"`

	// UseCase is a human-readable description of the agent's purpose.
	UseCase string `json:"use_case,omitempty"`
}

// ProviderStatus summarizes a registered provider for status endpoints.
type ProviderStatus struct {
	Name         string       `json:"provider"`
	Type         ProviderType `json:"type"`
	Enabled      bool         `json:"enabled"`
	Healthy      bool         `json:"healthy"`
	DefaultModel string       `json:"default_model"`
	Models       []string     `json:"models"`
	Capabilities []Capability `json:"capabilities"`

	Health *HealthCheckResult `json:"health,omitempty"`
}
