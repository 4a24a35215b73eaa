package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"school-gateway/internal/audit"
	"school-gateway/internal/chat"
	"school-gateway/internal/config"
	"school-gateway/internal/database"
	"school-gateway/internal/dispatch"
	"school-gateway/internal/executor"
	"school-gateway/internal/gateway"
	"school-gateway/internal/models"
	"school-gateway/internal/registry"
	"school-gateway/internal/server"
	"school-gateway/internal/token"
	"school-gateway/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting school gateway")

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	// Token gate
	manager := token.NewManager(cfg.JWT)
	gate := token.NewGate(
		manager,
		token.NewAccountRepository(db),
		token.NewRefreshTokenRepository(db),
		token.NewRedisBlacklist(redisClient),
		log,
	)

	// Connection registry with cross-process broadcast
	broadcaster := registry.NewRedisBroadcaster(redisClient, log)
	reg := registry.New(broadcaster, log)
	if err := reg.Start(context.Background()); err != nil {
		log.Error("failed to start broadcast subscription", "error", err)
		os.Exit(1)
	}
	defer broadcaster.Close()

	// Audit stream
	auditPub := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	defer auditPub.Close()

	// Chat and dispatch
	chatSvc := chat.NewService(chat.NewRepository(db), reg, log)
	exec := executor.NewHTTPExecutor(cfg.Executor.BaseURL, cfg.Executor.Timeout)
	tables := dispatch.BuildTables(chatSvc, exec)
	dispatcher := dispatch.NewDispatcher(tables, reg, log)

	gw := gateway.New(gate, dispatcher, reg, auditPub, models.AllRoles, cfg.Server.AllowedOrigins, log)

	router := server.NewRouter(gw, gate, log)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	log.Info("server stopped")
}
