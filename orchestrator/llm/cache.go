// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"peopleflow/platform/shared/logger"
)

const cacheKeyPrefix = "peopleflow:llmcache:"

// Cache is a Redis-backed response cache keyed on the canonical form
// of a request plus its resolved provider and model. Lookups and
// stores are best-effort: Redis failures are logged and the request
// proceeds to the provider.
//
// The configured similarity threshold only selects exact-match caching
// at 1.0; sub-1.0 thresholds are accepted in configuration for forward
// compatibility and treated as exact match.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a cache with the given TTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.Prefixed("LLM_CACHE"),
	}
}

// cacheKey derives the deterministic key for a request routed to a
// specific provider and model. Provider-specific metadata is excluded
// so equivalent requests hit the same entry.
func cacheKey(req CompletionRequest, provider, model string) string {
	canonical := struct {
		Type         RequestType   `json:"type"`
		Prompt       string        `json:"prompt,omitempty"`
		SystemPrompt string        `json:"system_prompt,omitempty"`
		Messages     []Message     `json:"messages,omitempty"`
		Functions    []FunctionDef `json:"functions,omitempty"`
		Temperature  float64       `json:"temperature"`
		MaxTokens    int           `json:"max_tokens"`
		Provider     string        `json:"provider"`
		Model        string        `json:"model"`
	}{
		Type:         req.Type,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Functions:    req.Functions,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Provider:     provider,
		Model:        model,
	}

	payload, err := json.Marshal(canonical)
	if err != nil {
		// Marshal of plain structs cannot realistically fail; fall
		// back to an uncacheable key.
		return ""
	}
	sum := sha256.Sum256(payload)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached response for the request, or nil on miss or
// Redis failure.
func (c *Cache) Get(ctx context.Context, req CompletionRequest, provider, model string) *CompletionResponse {
	if c == nil || c.client == nil {
		return nil
	}

	key := cacheKey(req, provider, model)
	if key == "" {
		return nil
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("cache lookup failed: %v", err)
		}
		return nil
	}

	var resp CompletionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Printf("cache entry corrupt, dropping: %v", err)
		c.client.Del(ctx, key)
		return nil
	}
	return &resp
}

// Set stores the response under the request's key with the cache TTL.
func (c *Cache) Set(ctx context.Context, req CompletionRequest, provider, model string, resp *CompletionResponse) {
	if c == nil || c.client == nil || resp == nil {
		return
	}

	key := cacheKey(req, provider, model)
	if key == "" {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		c.logger.Printf("cache encode failed: %v", err)
		return
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Printf("cache store failed: %v", err)
	}
}
