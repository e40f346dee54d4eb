// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the slice of the Secrets Manager client the resolver
// uses. Satisfied by *secretsmanager.Client.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretResolver fills in provider API keys referenced by Secrets
// Manager ARN at startup.
type SecretResolver struct {
	api SecretsAPI
}

// NewSecretResolver creates a resolver using the default AWS credential
// chain.
func NewSecretResolver(ctx context.Context) (*SecretResolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SecretResolver{api: secretsmanager.NewFromConfig(cfg)}, nil
}

// NewSecretResolverWithAPI creates a resolver over an existing client.
func NewSecretResolverWithAPI(api SecretsAPI) *SecretResolver {
	return &SecretResolver{api: api}
}

// ResolveProviderKeys replaces each provider's APIKeySecretARN with the
// fetched secret value. Entries with a literal APIKey are left alone;
// an ARN that fails to resolve is an error so the process refuses to
// start half-configured.
func (r *SecretResolver) ResolveProviderKeys(ctx context.Context, cfg *Config) error {
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if p.APIKeySecretARN == "" || p.APIKey != "" {
			continue
		}

		out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(p.APIKeySecretARN),
		})
		if err != nil {
			return fmt.Errorf("failed to resolve API key for provider %q: %w", p.Name, err)
		}
		if out.SecretString == nil || *out.SecretString == "" {
			return fmt.Errorf("secret for provider %q is empty", p.Name)
		}
		p.APIKey = *out.SecretString
	}
	return nil
}
