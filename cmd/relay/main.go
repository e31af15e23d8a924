package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	httphandlers "huddle/internal/handlers/http"
	"huddle/internal/infrastructure/distributed"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/relay"
	repositories "huddle/internal/infrastructure/repositories"
	"huddle/internal/infrastructure/repositories/memory"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/huddle/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	presenceRepo := repoFactory.CreatePresenceRepository()
	callRepo := repoFactory.CreateCallRepository()

	// A standalone relay has no product backend to ask about accounts,
	// groups or message history; the in-memory collaborators stand in.
	users := memory.NewMemoryUserDirectory(true)
	groups := memory.NewMemoryGroupDirectory()
	messages := memory.NewMemoryMessageStore()

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
	}

	rooms := relay.NewRoomTable(log)

	// With redis available, broadcasts are mirrored across relay instances
	// so users connected elsewhere still receive their deliveries.
	var broadcaster ports.Broadcaster = rooms
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		bus := distributed.NewEnvelopeBus(redisClient, uuid.NewString(), log)
		bridge := relay.NewBridgedBroadcaster(rooms, bus, log)
		broadcaster = bridge
		go func() {
			if err := bridge.Run(busCtx); err != nil && busCtx.Err() == nil {
				log.Errorw("envelope bus stopped", "error", err)
			}
		}()
		log.Info("cross-instance envelope bridge enabled")
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, users)
	presenceService := services.NewPresenceService(presenceRepo, users, broadcaster)
	callService := services.NewCallService(callRepo, groups, broadcaster, callObserver(collector))

	server := relay.NewServer(cfg, rooms, broadcaster, authService, presenceService, callService, groups, messages, collector)

	health := monitoring.NewHealthChecker()
	health.AddCheck("store", 2*time.Second, repoFactory.HealthCheck)
	health.AddRepositoryCheck(callRepo, 2*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", server.HandleWebSocket)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/status", middleware.AuthMiddleware(authService), server.HealthCheck)

	if cfg.Auth.AllowDevTokens {
		httphandlers.NewTokenHandler(authService).SetupRoutes(router)
		log.Warn("dev token endpoint enabled, do not use in production")
	}

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Huddle relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Huddle relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("Huddle relay stopped")
}

// callObserver avoids handing a typed nil to the service when metrics are
// disabled.
func callObserver(c *monitoring.PrometheusCollector) ports.CallObserver {
	if c == nil {
		return nil
	}
	return c
}
