// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"peopleflow/platform/orchestrator/llm"
)

type completeRequest struct {
	Type         string            `json:"type"`
	Prompt       string            `json:"prompt,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Messages     []llm.Message     `json:"messages,omitempty"`
	Functions    []llm.FunctionDef `json:"functions,omitempty"`
	Model        string            `json:"model,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Agent        string            `json:"agent,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

func (body completeRequest) toEngineRequest() llm.CompletionRequest {
	var req llm.CompletionRequest
	switch llm.RequestType(body.Type) {
	case llm.RequestTypeChat:
		req = llm.NewChatRequest(body.Messages)
	case llm.RequestTypeFunctionCall:
		req = llm.NewFunctionCallRequest(body.Messages, body.Functions)
	default:
		req = llm.NewCompletionRequest(body.Prompt)
		req.SystemPrompt = body.SystemPrompt
	}
	req.Model = body.Model
	req.Provider = body.Provider
	req.Agent = body.Agent
	req.Temperature = body.Temperature
	req.MaxTokens = body.MaxTokens
	req.Metadata = body.Metadata
	return req
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json", err.Error()))
		return
	}

	resp, err := s.llmEngine.Complete(r.Context(), body.toEngineRequest())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream serves the completion as server-sent events. Each chunk
// becomes one "data:" event; the stream always ends with a done or
// error chunk.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json", err.Error()))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming_unsupported", "response writer cannot stream"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	wroteChunk := false
	err := s.llmEngine.Stream(r.Context(), body.toEngineRequest(), func(chunk llm.StreamChunk) error {
		payload, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		wroteChunk = true
		return nil
	})
	if err != nil && !wroteChunk {
		// Nothing streamed yet, so a proper error status is still
		// possible.
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger.ErrorWithErr(requestIDFrom(r.Context()), "stream ended with error", err, nil)
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.llmEngine.ProvidersStatus(),
	})
}

func (s *Server) handleLLMHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.llmEngine.HealthCheck(r.Context()))
}

func daysParam(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return 30
	}
	return days
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	days := daysParam(r)
	agg, err := s.llmEngine.UsageStatistics(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "usage": agg})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	days := daysParam(r)
	costs, err := s.llmEngine.CostAnalysis(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "providers": costs})
}
