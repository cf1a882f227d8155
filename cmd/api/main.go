package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paperai/api/internal/ai"
	"paperai/api/internal/aicache"
	"paperai/api/internal/app"
	"paperai/api/internal/config"
	"paperai/api/internal/kv"
	"paperai/api/internal/llm"
	"paperai/api/internal/monitor"
	"paperai/api/internal/ratelimit"
)

func main() {
	cfg := config.Load()

	// Select the key-value backend once, at startup: the durable store
	// needs both connection parameters; anything less falls back to the
	// in-process store (single instance only - see internal/kv).
	var store kv.Store
	if strings.TrimSpace(cfg.RedisURL) != "" && strings.TrimSpace(cfg.RedisToken) != "" {
		log.Printf("Using Redis for quota counters, cache and metrics")
		redisStore, err := kv.NewRedisStore(cfg.RedisURL, cfg.RedisToken)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = redisStore
	} else {
		log.Printf("WARNING: Redis not configured, using in-process store (not safe across instances)")
		store = kv.NewMemoryStore()
	}
	defer store.Close()

	if cfg.AIAPIKey == "" {
		log.Printf("WARNING: AI_API_KEY not set, provider calls will be rejected upstream")
	}

	limiter := ratelimit.New(store, cfg.MaxRequestsPerMinute, cfg.MaxTokensPerDay)
	cache := aicache.New(store, cfg.CacheTTL)
	mon := monitor.New(store)
	provider := llm.NewClient(cfg.AIAPIKey, cfg.AIBaseURL)

	service := ai.New(limiter, cache, mon, provider, ai.Config{
		Model:          cfg.AIModel,
		Temperature:    cfg.AITemperature,
		MaxTokens:      cfg.AIMaxTokens,
		MaxAttempts:    cfg.MaxRetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})

	httpServer := app.NewHTTPServer(service, store, cfg.JWTSecret, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second, // provider calls with retries are slow
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Paper AI API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
