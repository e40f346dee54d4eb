// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Command engined runs the PeopleFlow core engine daemon: the
// multi-provider LLM router and the workflow state machine behind one
// HTTP API.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/lib/pq"

	"peopleflow/platform/config"
	"peopleflow/platform/orchestrator/llm"
	"peopleflow/platform/server"
	"peopleflow/platform/usage"
	"peopleflow/platform/workflow"
)

func main() {
	configPath := os.Getenv("ENGINE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hasSecretRefs(cfg) {
		resolver, err := config.NewSecretResolver(ctx)
		if err != nil {
			log.Fatalf("secrets: %v", err)
		}
		if err := resolver.ResolveProviderKeys(ctx, cfg); err != nil {
			log.Fatalf("secrets: %v", err)
		}
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("database ping: %v", err)
	}

	registry := llm.NewRegistry(llm.WithFactories(llm.DefaultFactories()))
	for _, pc := range cfg.ProviderConfigs() {
		if err := registry.Register(pc); err != nil {
			log.Fatalf("provider %s: %v", pc.Name, err)
		}
	}

	routes, err := cfg.AgentRoutes()
	if err != nil {
		log.Fatalf("agent routes: %v", err)
	}

	sink := usage.NewPostgresSink(db)

	var cache *llm.Cache
	if cfg.LLM.Cache.Enabled && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		defer client.Close()
		cache = llm.NewCache(client, cfg.CacheTTL())
	}

	engine := llm.NewEngine(registry,
		llm.WithAgentRoutes(routes),
		llm.WithSink(sink),
		llm.WithCache(cache),
		llm.WithMetrics(llm.NewMetrics(prometheus.DefaultRegisterer)),
		llm.WithFailover(cfg.LLM.FailoverEnabled),
		llm.WithDefaultProvider(cfg.LLM.DefaultProvider),
		llm.WithStrategy(llm.RoutingStrategy(cfg.LLM.RoutingStrategy)),
	)
	registry.StartPeriodicHealthCheck(ctx, cfg.HealthCheckInterval())

	if cfg.LLM.Budgets.DailyLimitUSD > 0 || cfg.LLM.Budgets.MonthlyLimitUSD > 0 {
		evaluator := usage.NewBudgetEvaluator(sink,
			cfg.LLM.Budgets.DailyLimitUSD, cfg.LLM.Budgets.MonthlyLimitUSD)
		go runBudgetChecks(ctx, evaluator)
	}

	wfStore := workflow.NewPostgresStore(db)
	wfEngine := workflow.NewEngine(wfStore,
		workflow.WithDefaultTimeouts(cfg.Workflow.DefaultTimeoutHours))
	workflow.NewSweeper(wfEngine, wfStore, cfg.SweepInterval()).Start(ctx)

	srv := server.New(engine, wfEngine,
		server.WithJWTSecret(cfg.Server.JWTSecret),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	go func() {
		if err := srv.Start(cfg.Server.Port, cfg.Server.ReadTimeoutSeconds, cfg.Server.WriteTimeoutSeconds); err != nil {
			log.Fatalf("server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func runBudgetChecks(ctx context.Context, evaluator *usage.BudgetEvaluator) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts, err := evaluator.Check(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("budget check: %v", err)
				continue
			}
			for _, alert := range alerts {
				log.Printf("budget alert: %s", alert)
			}
		}
	}
}

func hasSecretRefs(cfg *config.Config) bool {
	for _, p := range cfg.LLM.Providers {
		if p.APIKeySecretARN != "" && p.APIKey == "" {
			return true
		}
	}
	return false
}
