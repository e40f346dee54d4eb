// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package bedrock implements a client for AWS Bedrock managed models
// over the InvokeModel runtime API. Request bodies differ per model
// family; the client translates a neutral chat request into the family
// format inferred from the model identifier.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// InvokeAPI is the slice of the Bedrock runtime client the package
// uses. Satisfied by *bedrockruntime.Client.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client invokes Bedrock models in one region.
type Client struct {
	api InvokeAPI
}

// NewClient creates a client using the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Client{api: bedrockruntime.NewFromConfig(cfg)}, nil
}

// NewClientWithAPI creates a client over an existing runtime API.
func NewClientWithAPI(api InvokeAPI) *Client {
	return &Client{api: api}
}

// Message is one neutral chat turn.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is the neutral request translated per model family.
type ChatRequest struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the neutral response extracted per model family.
type ChatResponse struct {
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Chat invokes the named model with the family-appropriate body.
func (c *Client) Chat(ctx context.Context, modelID string, req ChatRequest) (*ChatResponse, error) {
	body, err := buildRequestBody(modelID, req)
	if err != nil {
		return nil, err
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke failed for %s: %w", modelID, err)
	}

	return parseResponseBody(modelID, out.Body)
}

// buildRequestBody renders the family-specific JSON body.
func buildRequestBody(modelID string, req ChatRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	switch {
	case strings.Contains(modelID, "anthropic.claude"):
		type msg struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		msgs := make([]msg, 0, len(req.Messages))
		for _, m := range req.Messages {
			msgs = append(msgs, msg{Role: m.Role, Content: m.Content})
		}
		return json.Marshal(map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"system":            req.System,
			"messages":          msgs,
			"max_tokens":        maxTokens,
			"temperature":       req.Temperature,
		})

	case strings.Contains(modelID, "meta.llama"):
		return json.Marshal(map[string]any{
			"prompt":      flattenPrompt(req),
			"max_gen_len": maxTokens,
			"temperature": req.Temperature,
		})

	case strings.Contains(modelID, "amazon.titan"):
		return json.Marshal(map[string]any{
			"inputText": flattenPrompt(req),
			"textGenerationConfig": map[string]any{
				"maxTokenCount": maxTokens,
				"temperature":   req.Temperature,
			},
		})

	default:
		return nil, fmt.Errorf("unsupported bedrock model family: %s", modelID)
	}
}

// flattenPrompt renders the conversation as a single prompt for
// families without a structured chat format.
func flattenPrompt(req ChatRequest) string {
	var sb strings.Builder
	if req.System != "" {
		sb.WriteString(req.System)
		sb.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("assistant: ")
	return sb.String()
}

// parseResponseBody extracts the neutral response from the
// family-specific JSON body.
func parseResponseBody(modelID string, body []byte) (*ChatResponse, error) {
	switch {
	case strings.Contains(modelID, "anthropic.claude"):
		var out struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode claude response: %w", err)
		}
		var sb strings.Builder
		for _, block := range out.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return &ChatResponse{
			Content:      sb.String(),
			StopReason:   out.StopReason,
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		}, nil

	case strings.Contains(modelID, "meta.llama"):
		var out struct {
			Generation           string `json:"generation"`
			StopReason           string `json:"stop_reason"`
			PromptTokenCount     int    `json:"prompt_token_count"`
			GenerationTokenCount int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode llama response: %w", err)
		}
		return &ChatResponse{
			Content:      out.Generation,
			StopReason:   out.StopReason,
			InputTokens:  out.PromptTokenCount,
			OutputTokens: out.GenerationTokenCount,
		}, nil

	case strings.Contains(modelID, "amazon.titan"):
		var out struct {
			Results []struct {
				OutputText       string `json:"outputText"`
				CompletionReason string `json:"completionReason"`
				TokenCount       int    `json:"tokenCount"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode titan response: %w", err)
		}
		resp := &ChatResponse{InputTokens: out.InputTextTokenCount}
		if len(out.Results) > 0 {
			resp.Content = out.Results[0].OutputText
			resp.StopReason = out.Results[0].CompletionReason
			resp.OutputTokens = out.Results[0].TokenCount
		}
		return resp, nil

	default:
		return nil, fmt.Errorf("unsupported bedrock model family: %s", modelID)
	}
}
