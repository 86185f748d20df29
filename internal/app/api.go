package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	v1 "github.com/jaennil/guide_helper/backend/mapviewer/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/usecase"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/http_server"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/telemetry"
)

const shutdownTimeout = 30 * time.Second

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	l.Info("app config", "cfg", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithLogger(ctx, l)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize telemetry", "error", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
		l.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
	}

	stack, err := NewTileStack(cfg, l)
	if err != nil {
		l.Fatal("failed to initialize tile stack", "error", err)
	}

	tileUseCase := usecase.NewTileUseCase(stack.Factory, cfg.HTTP.Timeout, l)

	validate := validator.New()
	h := handler.NewHandler(validate, tileUseCase)
	router := v1.NewRouter(h, l, cfg.Telemetry.Enabled)

	httpServer := http_server.NewServer(ctx, cfg.HTTP.Server, router)

	if err := httpServer.Run(ctx); err != nil {
		l.Error("http server failed", "address", httpServer.Addr(), "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := stack.Close(shutdownCtx); err != nil {
		l.Error("tile stack shutdown failed", "error", err)
	}

	l.Info("application shutdown completed")
}
