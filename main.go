package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/Laisky/gemini-balance/common"
	"github.com/Laisky/gemini-balance/common/client"
	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/graceful"
	"github.com/Laisky/gemini-balance/common/logger"
	"github.com/Laisky/gemini-balance/common/telemetry"
	"github.com/Laisky/gemini-balance/middleware"
	"github.com/Laisky/gemini-balance/model"
	"github.com/Laisky/gemini-balance/monitor"
	relaycontroller "github.com/Laisky/gemini-balance/relay/controller"
	"github.com/Laisky/gemini-balance/router"
)

func main() {
	ctx := context.Background()
	startTime := time.Now()

	logger.Logger.Info("gemini-balance started", zap.String("version", common.Version))

	if len(config.APIKeys) == 0 {
		logger.Logger.Fatal("API_KEYS is empty, nothing to balance")
	}

	switch {
	case config.GinMode != "":
		gin.SetMode(config.GinMode)
	case config.DebugEnabled:
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	providers, err := telemetry.InitOpenTelemetry(ctx)
	if err != nil {
		logger.Logger.Fatal("failed to initialize OpenTelemetry", zap.Error(err))
	}

	if err := model.InitDB(); err != nil {
		logger.Logger.Fatal("failed to initialize log database", zap.Error(err))
	}
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Error("failed to close log database", zap.Error(err))
		}
	}()

	if err := middleware.InitRedis(); err != nil {
		logger.Logger.Fatal("failed to initialize redis", zap.Error(err))
	}

	if err := monitor.InitMonitoring(common.Version, startTime.Format(time.RFC3339),
		runtime.Version(), startTime); err != nil {
		logger.Logger.Fatal("failed to initialize monitoring", zap.Error(err))
	}

	client.Init()
	relaycontroller.Init()

	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}

	server := gin.New()
	server.RedirectTrailingSlash = false
	server.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
	)
	server.Use(middleware.RequestId())
	server.Use(middleware.Metrics())

	router.SetRouter(server)

	addr := fmt.Sprintf(":%d", config.ServerPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		logger.Logger.Info("server started", zap.String("address", "http://localhost"+addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	graceful.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(ctx, config.GracefulShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("HTTP server shutdown", zap.Error(err))
	}
	if err := graceful.Drain(shutdownCtx); err != nil {
		logger.Logger.Error("drain background tasks", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("shutdown telemetry", zap.Error(err))
	}
	logger.Logger.Info("gemini-balance stopped")
}
