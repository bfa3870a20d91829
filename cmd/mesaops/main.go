package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mesaops/auth"
	"mesaops/bus"
	"mesaops/config"
	"mesaops/models"
	"mesaops/observability/logging"
	"mesaops/observability/tracing"
	"mesaops/pii"
	"mesaops/server"
	"mesaops/workflow"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Setup("mesaops", "").Error("configuration failed", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("mesaops", cfg.Environment)

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: "mesaops",
		Environment: cfg.Environment,
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		Headers:     tracing.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	var stream bus.Stream
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis unreachable", "error", err)
			os.Exit(1)
		}
		stream = bus.NewRedisStream(client, bus.WithStreamKey(cfg.StreamKey))
		logger.Info("event stream on redis", "key", cfg.StreamKey)
	} else {
		stream = bus.NewMemoryStream()
		logger.Warn("MESA_REDIS_URL unset, events are process-local")
	}

	codec, err := pii.NewCodecFromHex(cfg.PIIKeyHex)
	if err != nil {
		logger.Error("pii key invalid", "error", err)
		os.Exit(1)
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Error("auth secret invalid", "error", err)
		os.Exit(1)
	}

	engine := workflow.New(workflow.Options{
		DB:     db,
		Stream: stream,
		Codec:  codec,
		Logger: logger,
		Config: cfg,
	})
	srv := server.New(server.Config{
		Engine:   engine,
		Verifier: verifier,
		Stream:   stream,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(srv.Handler(), "mesaops.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
}
