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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clasedesurf/tidepool/internal/auth"
	"github.com/clasedesurf/tidepool/internal/config"
	"github.com/clasedesurf/tidepool/internal/database"
	"github.com/clasedesurf/tidepool/internal/middleware"
	"github.com/clasedesurf/tidepool/internal/ratelimit"
	"github.com/clasedesurf/tidepool/internal/school"
	"github.com/clasedesurf/tidepool/internal/token"
	"github.com/clasedesurf/tidepool/internal/user"
	apperrors "github.com/clasedesurf/tidepool/pkg/errors"
	"github.com/clasedesurf/tidepool/pkg/response"
)

func main() {
	cfg, err := config.Load()
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

	logger.Info("Starting tidepool auth API", zap.String("env", cfg.Env))

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	db, err := database.NewPostgresDB(startCtx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	redisClient, err := database.NewRedisClient(startCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	userRepo := user.NewRepository(db.DB)
	schoolRepo := school.NewRepository(db.DB)
	tokenService := token.NewService(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	refreshStore := token.NewRefreshStore(redisClient.Client, cfg.JWT.RefreshTokenTTL)
	tokenBlacklist := token.NewBlacklist(redisClient.Client)
	rateLimiter := ratelimit.NewLimiter(
		redisClient.Client,
		cfg.RateLimit.Window,
		cfg.RateLimit.MaxAttempts,
		cfg.RateLimit.LockoutDuration,
	)
	authService := auth.NewService(userRepo, tokenService, refreshStore, tokenBlacklist, rateLimiter, logger)

	authHandler := auth.NewHandler(authService, cfg.Cookie, logger)
	schoolHandler := school.NewHandler(schoolRepo, userRepo, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	allowedOrigins := middleware.ParseAllowedOrigins(cfg.CORS.AllowedOrigins)
	router.Use(middleware.CORS(allowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	checkers := map[string]database.Checker{"postgres": db, "redis": redisClient}
	router.GET("/health", func(c *gin.Context) {
		if err := database.CheckAll(c.Request.Context(), checkers); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			response.Error(c, apperrors.ErrUnavailable)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/register-school", authHandler.RegisterSchool)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", middleware.Auth(authService), authHandler.Me)
	}

	authed := router.Group("", middleware.Auth(authService))
	{
		authed.GET("/users/profile", authHandler.Me)
		authed.PUT("/users/profile", authHandler.UpdateProfile)
		authed.GET("/organizations/principal/:id", schoolHandler.Organization)
	}

	staff := authed.Group("", middleware.RequireRole(user.RoleAdmin, user.RoleSchoolAdmin, user.RoleInstructor))
	{
		staff.GET("/instructors", schoolHandler.ListInstructors)
		staff.GET("/classes", schoolHandler.ListClasses)
		staff.POST("/classes", schoolHandler.CreateClass)
		staff.GET("/students", schoolHandler.ListStudents)
		staff.GET("/schools/my-school", schoolHandler.MySchool)
	}

	owners := authed.Group("", middleware.RequireRole(user.RoleAdmin, user.RoleSchoolAdmin))
	{
		owners.POST("/instructors", schoolHandler.CreateInstructor)
		owners.GET("/stats/dashboard", schoolHandler.DashboardStats)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
