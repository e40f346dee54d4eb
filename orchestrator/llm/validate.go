// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import "fmt"

// Request validation bounds. Requests outside these limits are rejected
// before any provider dispatch.
const (
	MaxMessages    = 64
	MaxFunctions   = 32
	MaxPromptBytes = 1 << 20 // 1 MiB
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MaxMaxTokens   = 32000
)

// Validate checks the request shape and bounds. It returns a
// *ValidationError describing the first violation found, or nil.
func (r CompletionRequest) Validate() error {
	switch r.Type {
	case RequestTypeCompletion:
		if r.Prompt == "" {
			return &ValidationError{Field: "prompt", Message: "must not be empty"}
		}
		if len(r.Prompt) > MaxPromptBytes {
			return &ValidationError{Field: "prompt", Message: "exceeds maximum size"}
		}
	case RequestTypeChat:
		if err := validateMessages(r.Messages); err != nil {
			return err
		}
	case RequestTypeFunctionCall:
		if err := validateMessages(r.Messages); err != nil {
			return err
		}
		if len(r.Functions) == 0 {
			return &ValidationError{Field: "functions", Message: "must not be empty"}
		}
		if len(r.Functions) > MaxFunctions {
			return &ValidationError{Field: "functions", Message: "too many functions"}
		}
		for i, fn := range r.Functions {
			if fn.Name == "" {
				return &ValidationError{Field: "functions", Message: indexed("function", i, "name must not be empty")}
			}
		}
	default:
		return &ValidationError{Field: "type", Message: "unknown request type"}
	}

	if r.Temperature < MinTemperature || r.Temperature > MaxTemperature {
		return &ValidationError{Field: "temperature", Message: "must be between 0.0 and 2.0"}
	}
	if r.MaxTokens < 0 || r.MaxTokens > MaxMaxTokens {
		return &ValidationError{Field: "max_tokens", Message: "must be between 1 and 32000"}
	}

	return nil
}

func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return &ValidationError{Field: "messages", Message: "must not be empty"}
	}
	if len(messages) > MaxMessages {
		return &ValidationError{Field: "messages", Message: "too many messages"}
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &ValidationError{Field: "messages", Message: indexed("message", i, "role must be system, user or assistant")}
		}
		if m.Content == "" {
			return &ValidationError{Field: "messages", Message: indexed("message", i, "content must not be empty")}
		}
		if len(m.Content) > MaxPromptBytes {
			return &ValidationError{Field: "messages", Message: indexed("message", i, "content exceeds maximum size")}
		}
	}
	return nil
}

func indexed(kind string, i int, msg string) string {
	return fmt.Sprintf("%s[%d]: %s", kind, i, msg)
}

// requiredCapability maps a request shape to the capability a provider
// must declare before the router will dispatch to it.
func requiredCapability(t RequestType) Capability {
	switch t {
	case RequestTypeCompletion:
		return CapabilityCompletion
	case RequestTypeFunctionCall:
		return CapabilityFunctionCalling
	default:
		return CapabilityChat
	}
}
