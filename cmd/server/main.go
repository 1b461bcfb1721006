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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/api/handlers"
	"github.com/troikatech/voice-orchestrator/internal/lifecycle"
	"github.com/troikatech/voice-orchestrator/internal/realtime"
	"github.com/troikatech/voice-orchestrator/internal/session"
	"github.com/troikatech/voice-orchestrator/pkg/callrecords"
	"github.com/troikatech/voice-orchestrator/pkg/callstore"
	"github.com/troikatech/voice-orchestrator/pkg/env"
	"github.com/troikatech/voice-orchestrator/pkg/logger"
	"github.com/troikatech/voice-orchestrator/pkg/middleware"
	"github.com/troikatech/voice-orchestrator/pkg/otel"
	"github.com/troikatech/voice-orchestrator/pkg/routing"
	"github.com/troikatech/voice-orchestrator/pkg/search"
	"github.com/troikatech/voice-orchestrator/pkg/sms"
	"github.com/troikatech/voice-orchestrator/pkg/telephony"
)

type orchestratorServer struct {
	cfg     *env.Config
	handler *handlers.Handler
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("voice-orchestrator", "1.0.0", cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting voice orchestrator",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	providerTimeout := time.Duration(cfg.ProviderTimeoutMs) * time.Millisecond

	// Call state store: Redis when configured, in-memory otherwise.
	var store callstore.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opt)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		cancel()

		store = callstore.NewRedis(redisClient)
		logger.Log.Info("Using Redis call state store")
	} else {
		store = callstore.NewMemory()
		logger.Log.Info("Using in-memory call state store")
	}

	// Call records are optional; a nil store no-ops every write.
	var records *callrecords.Store
	if cfg.MongoURI != "" {
		records, err = callrecords.NewStore(cfg.MongoURI, cfg.DBName, logger.Log)
		if err != nil {
			logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := records.Disconnect(ctx); err != nil {
				logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
			}
		}()
		logger.Log.Info("Call records enabled", zap.String("db", cfg.DBName))
	}

	provider, err := telephony.NewClient(cfg.ACSConnectionString, providerTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to create call automation client", zap.Error(err))
	}

	var smsSender sms.Sender = sms.Disabled{}
	if cfg.ACSSMSConnectionString != "" && cfg.SMSFromNumber != "" {
		smsClient, err := sms.NewClient(cfg.ACSSMSConnectionString, cfg.SMSFromNumber,
			providerTimeout, logger.Log)
		if err != nil {
			logger.Log.Fatal("Failed to create SMS client", zap.Error(err))
		}
		smsSender = smsClient
	} else {
		logger.Log.Warn("SMS sending disabled: no connection string configured")
	}

	var searcher search.Searcher = search.Disabled{}
	if cfg.SearchEndpoint != "" {
		searcher = search.NewClient(cfg.SearchEndpoint, cfg.SearchAPIKey, providerTimeout)
	} else {
		logger.Log.Warn("Knowledge base search disabled: no endpoint configured")
	}

	routes := routing.NewTable(logger.Log)

	machine := lifecycle.NewMachine(store, provider, records,
		cfg.CallbackHost+"/api/callbacks", logger.Log)

	dialModel := func(ctx context.Context) (session.ModelConn, error) {
		return realtime.Dial(ctx, cfg.RealtimeEndpoint, cfg.RealtimeAPIKey, cfg.RealtimeDeployment)
	}

	handler := handlers.NewHandler(cfg, store, provider, machine, routes,
		searcher, smsSender, records, dialModel)

	server := &orchestratorServer{cfg: cfg, handler: handler}
	router := server.setupRouter()

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: router,
		// No read/write timeouts: media streaming sockets are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Log.Info("Voice orchestrator listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

func (s *orchestratorServer) setupRouter() *gin.Engine {
	if s.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())

	if s.cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	corsConfig := cors.DefaultConfig()
	if s.cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.CORSAllowedOrigins}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handler.HealthCheck)
	router.GET("/metrics", s.handler.GetMetrics)

	api := router.Group("/api")
	{
		api.POST("/incomingCall", s.handler.IncomingCall)
		api.POST("/callbacks/:contextId", s.handler.Callbacks)
	}

	router.GET("/ws", s.handler.MediaStream)

	return router
}
