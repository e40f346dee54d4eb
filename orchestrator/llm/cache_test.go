// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCache(client, ttl), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	req := NewCompletionRequest("what is the leave policy?")
	resp := &CompletionResponse{
		Content:  "see the handbook",
		Model:    "default-model",
		Provider: "alpha",
		Usage:    UsageStats{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Cost:     0.001,
	}

	if got := cache.Get(ctx, req, "alpha", "default-model"); got != nil {
		t.Fatal("expected miss on empty cache")
	}

	cache.Set(ctx, req, "alpha", "default-model", resp)

	got := cache.Get(ctx, req, "alpha", "default-model")
	if got == nil {
		t.Fatal("expected hit after store")
	}
	if got.Content != resp.Content || got.Cost != resp.Cost {
		t.Errorf("cached response mismatch: %+v", got)
	}
}

func TestCacheKeyIncludesRouting(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	req := NewCompletionRequest("hello")
	cache.Set(ctx, req, "alpha", "default-model", &CompletionResponse{Content: "a"})

	// Same request routed elsewhere must not hit the same entry.
	if got := cache.Get(ctx, req, "beta", "default-model"); got != nil {
		t.Error("different provider should miss")
	}
	if got := cache.Get(ctx, req, "alpha", "cheap-model"); got != nil {
		t.Error("different model should miss")
	}

	// Different prompt, same routing: also a miss.
	other := NewCompletionRequest("goodbye")
	if got := cache.Get(ctx, other, "alpha", "default-model"); got != nil {
		t.Error("different prompt should miss")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	req := NewCompletionRequest("hello")
	cache.Set(ctx, req, "alpha", "default-model", &CompletionResponse{Content: "a"})

	mr.FastForward(2 * time.Minute)

	if got := cache.Get(ctx, req, "alpha", "default-model"); got != nil {
		t.Error("entry should expire after TTL")
	}
}

func TestCacheCorruptEntryDropped(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	req := NewCompletionRequest("hello")
	key := cacheKey(req, "alpha", "default-model")
	mr.Set(key, "{not json")

	if got := cache.Get(ctx, req, "alpha", "default-model"); got != nil {
		t.Fatal("corrupt entry must read as a miss")
	}
	if mr.Exists(key) {
		t.Error("corrupt entry should be deleted")
	}
}

func TestCacheNilSafe(t *testing.T) {
	var cache *Cache
	req := NewCompletionRequest("hello")

	// A nil cache disables caching without panicking.
	if got := cache.Get(context.Background(), req, "alpha", "default-model"); got != nil {
		t.Error("nil cache should always miss")
	}
	cache.Set(context.Background(), req, "alpha", "default-model", &CompletionResponse{})
}
