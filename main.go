package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hookpulse/internal"
	"hookpulse/pkg/api"
	"hookpulse/pkg/hub"
	"hookpulse/pkg/storage/events"
	"hookpulse/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := events.Open(events.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		Table:       config.Storage.Table,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatalf("open event store: %v", err)
	}
	defer store.Close()

	broadcaster, err := hub.New(hub.Config{
		OutputBuffer:  config.Broadcast.OutputBuffer,
		BackfillLimit: config.Broadcast.BackfillLimit,
	}, internal.NewLogger("hub"))
	if err != nil {
		logger.Fatalf("broadcast hub: %v", err)
	}
	defer broadcaster.Close()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		if err := broadcaster.Run(runCtx); err != nil {
			logger.Fatalf("broadcast hub: %v", err)
		}
	}()
	<-broadcaster.Running()

	webhookCfg := webhook.Config{
		Secret:  config.Webhook.Secret,
		Store:   store,
		Hub:     broadcaster,
		Logger:  internal.NewLogger("webhook"),
		MaxBody: config.Server.MaxBodyBytes,
	}

	if len(config.Rules) > 0 {
		ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
			Rules:  config.Rules,
			Strict: config.RulesStrict,
			Logger: logger,
		})
		if err != nil {
			logger.Fatalf("compile rules: %v", err)
		}
		publisher, err := internal.NewPublisher(config.Watermill)
		if err != nil {
			logger.Fatalf("publisher: %v", err)
		}
		defer publisher.Close()
		webhookCfg.Rules = ruleEngine
		webhookCfg.Publisher = publisher
		logger.Printf("forwarding enabled with %d rule(s)", len(config.Rules))
	}

	apiLogger := internal.NewLogger("api")
	mux := http.NewServeMux()
	mux.Handle("POST "+config.Webhook.Path, internal.NewRateLimitHandler(
		webhook.NewHandler(webhookCfg),
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
		0,
	))
	mux.Handle("GET "+config.Broadcast.Path, broadcaster.StreamHandler(store))
	mux.Handle("GET /api/events", &api.EventsHandler{Store: store, Logger: apiLogger})
	mux.Handle("GET /api/events/{id}/details", &api.EventDetailsHandler{Store: store, Logger: apiLogger})
	mux.Handle("GET /api/stats", &api.StatsHandler{Store: store, Logger: apiLogger})
	mux.Handle("GET /api/pr-analytics", &api.PRAnalyticsHandler{Store: store, Logger: apiLogger})
	mux.Handle("GET /health", &api.HealthHandler{Store: store, Observers: broadcaster, Logger: apiLogger})
	mux.Handle("GET /{$}", &api.IndexHandler{Observers: broadcaster})
	if config.Server.MetricsEnabled {
		mux.Handle("GET "+config.Server.MetricsPath, expvar.Handler())
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
