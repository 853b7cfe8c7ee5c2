package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/backend"
	"github.com/clasedesurf/tidepool/internal/config"
	"github.com/clasedesurf/tidepool/internal/gateway"
	"github.com/clasedesurf/tidepool/internal/session"
	"github.com/clasedesurf/tidepool/internal/token"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting tidepool gateway",
		zap.String("env", cfg.Env),
		zap.String("backend", cfg.BackendURL),
	)

	codec, err := session.NewCodec(cfg.Session.Secret)
	if err != nil {
		logger.Fatal("Failed to initialise session codec", zap.Error(err))
	}
	client, err := backend.NewClient(cfg.BackendURL)
	if err != nil {
		logger.Fatal("Invalid backend URL", zap.Error(err))
	}
	store := session.NewStore(codec, cfg.Session)
	coordinator := session.NewCoordinator(client, session.CoordinatorConfig{
		Timeout:    cfg.Timeouts.Refresh,
		MaxRetries: cfg.Timeouts.RefreshMaxRetries,
		Backoff:    cfg.Timeouts.RefreshBackoff,
	}, logger)
	verifier := token.NewService(cfg.JWTSecretKey, cfg.JWTIssuer, cfg.JWTTTL)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gateway.NewRouter(gateway.Dependencies{
		Config:      cfg,
		Backend:     client,
		Store:       store,
		Coordinator: coordinator,
		Verifier:    verifier,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Timeouts.RequestBudget(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
