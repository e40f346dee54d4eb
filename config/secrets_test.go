// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	secrets map[string]string
	calls   int
}

func (f *fakeSecretsAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	value, ok := f.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func TestResolveProviderKeys(t *testing.T) {
	api := &fakeSecretsAPI{secrets: map[string]string{
		"arn:aws:secretsmanager:us-east-1:123:secret:openai-key": "sk-resolved",
	}}
	resolver := NewSecretResolverWithAPI(api)

	cfg := &Config{}
	cfg.LLM.Providers = []ProviderEntry{
		{Name: "openai-main", APIKeySecretARN: "arn:aws:secretsmanager:us-east-1:123:secret:openai-key"},
		{Name: "anthropic-main", APIKey: "sk-literal", APIKeySecretARN: "arn:ignored"},
		{Name: "local-ollama"},
	}

	require.NoError(t, resolver.ResolveProviderKeys(context.Background(), cfg))

	assert.Equal(t, "sk-resolved", cfg.LLM.Providers[0].APIKey)
	assert.Equal(t, "sk-literal", cfg.LLM.Providers[1].APIKey, "literal keys win over ARNs")
	assert.Empty(t, cfg.LLM.Providers[2].APIKey)
	assert.Equal(t, 1, api.calls, "only unresolved ARNs hit Secrets Manager")
}

func TestResolveProviderKeysFailures(t *testing.T) {
	t.Run("unknown secret", func(t *testing.T) {
		resolver := NewSecretResolverWithAPI(&fakeSecretsAPI{})
		cfg := &Config{}
		cfg.LLM.Providers = []ProviderEntry{{Name: "openai-main", APIKeySecretARN: "arn:missing"}}

		err := resolver.ResolveProviderKeys(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "openai-main")
	})

	t.Run("empty secret", func(t *testing.T) {
		resolver := NewSecretResolverWithAPI(&fakeSecretsAPI{secrets: map[string]string{"arn:empty": ""}})
		cfg := &Config{}
		cfg.LLM.Providers = []ProviderEntry{{Name: "openai-main", APIKeySecretARN: "arn:empty"}}

		err := resolver.ResolveProviderKeys(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})
}
