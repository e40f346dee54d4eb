// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the routing engine and the workflow engine
// over HTTP. It owns request validation at the transport edge, the
// error-to-status mapping and the SSE streaming endpoint; all domain
// rules live in the engines.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"peopleflow/platform/orchestrator/llm"
	"peopleflow/platform/shared/logger"
	"peopleflow/platform/workflow"
)

// Server is the HTTP front for both engines.
type Server struct {
	llmEngine      *llm.Engine
	workflowEngine *workflow.Engine
	logger         *logger.Logger
	jwtSecret      []byte
	allowedOrigins []string

	httpServer *http.Server
}

// Option configures the server during creation.
type Option func(*Server)

// WithJWTSecret enables bearer-token authentication on the API routes.
// An empty secret leaves the API open (local development).
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

// WithAllowedOrigins sets the CORS allow-list.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// New creates a server over the two engines.
func New(llmEngine *llm.Engine, workflowEngine *workflow.Engine, opts ...Option) *Server {
	s := &Server{
		llmEngine:      llmEngine,
		workflowEngine: workflowEngine,
		logger:         logger.New("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route tree with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	if s.jwtSecret != nil {
		api.Use(s.authMiddleware)
	}

	api.HandleFunc("/llm/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/llm/stream", s.handleStream).Methods(http.MethodPost)
	api.HandleFunc("/llm/providers", s.handleProviders).Methods(http.MethodGet)
	api.HandleFunc("/llm/health", s.handleLLMHealth).Methods(http.MethodGet)
	api.HandleFunc("/llm/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/llm/costs", s.handleCosts).Methods(http.MethodGet)

	api.HandleFunc("/workflows/definitions", s.handleCreateDefinition).Methods(http.MethodPost)
	api.HandleFunc("/workflows/definitions", s.handleListDefinitions).Methods(http.MethodGet)
	api.HandleFunc("/workflows/definitions/{id}", s.handleGetDefinition).Methods(http.MethodGet)
	api.HandleFunc("/workflows", s.handleStartWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}", s.handleGetWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}/steps/{stepID}/actions", s.handleTakeAction).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) corsOrigins() []string {
	if len(s.allowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.allowedOrigins
}

// Start begins serving on the given port until Shutdown is called.
func (s *Server) Start(port, readTimeoutSeconds, writeTimeoutSeconds int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(readTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(writeTimeoutSeconds) * time.Second,
	}

	s.logger.Info("", "HTTP server listening", map[string]interface{}{"port": port})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
