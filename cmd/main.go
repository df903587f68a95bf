package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"milna-relay/internal/config"
	"milna-relay/internal/identity"
	"milna-relay/internal/logger"
	"milna-relay/internal/quota"
	"milna-relay/internal/relay"
	"milna-relay/internal/store"
	"milna-relay/internal/telemetry"
	"milna-relay/middleware"
	"milna-relay/routes"
	"milna-relay/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Tracing is best effort; the relay runs without a collector.
	shutdownTracer, err := telemetry.InitTracer("milna-relay", os.Getenv("OTLP_ENDPOINT"))
	if err != nil {
		logger.Warn("Tracing disabled", "error", err.Error())
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Connect to Redis
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	db := mongoClient.Database(cfg.DBName)

	relayClient := relay.NewClient(relay.Options{
		Endpoint:       cfg.AgentEndpoint,
		DirectEndpoint: cfg.DirectEndpoint,
		Timeout:        time.Duration(cfg.RelayTimeoutMs) * time.Millisecond,
		RequestsPerMin: cfg.RelayRPM,
	})

	guard := quota.NewGuard(quota.NewMongoStore(db), cfg.MessageLimit)
	pending := store.NewPendingReplyStore(rdb, time.Duration(cfg.PendingReplyTTL)*time.Second)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	cleanup := services.NewCleanupService(cfg, db)
	if err := cleanup.Start(); err != nil {
		logger.Warn("Cleanup scheduler not started", "error", err.Error())
	}
	defer cleanup.Stop()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())

	// CORS configuration - the widget is embedded on customer sites, so
	// origins come from configuration rather than a fixed list.
	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Visitor-ID", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	// Setup routes
	routes.SetupWidgetRoutes(router, routes.WidgetDeps{
		Cfg:           cfg,
		Agents:        routes.NewMongoAgentStore(db),
		Conversations: identity.NewConversationResolver(db),
		Messages:      db.Collection("messages"),
		Redis:         rdb,
		RelayClient:   relayClient,
		Guard:         guard,
		Pending:       pending,
		Queue:         asynqClient,
		Metrics:       metrics,
	})
	routes.SetupWebhookRoutes(router, pending, metrics)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
