package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"skin-triage/config"
	"skin-triage/internal/api/rest"
	"skin-triage/internal/api/telegram"
	"skin-triage/internal/container"
	"skin-triage/internal/domain/port"
	"skin-triage/internal/infrastructure/metrics"
	"skin-triage/internal/infrastructure/model"
	"skin-triage/internal/infrastructure/onnx"
	"skin-triage/internal/infrastructure/storage"
	"skin-triage/internal/infrastructure/vision"
	"skin-triage/pkg/zlog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if _, err := zlog.Init(zlog.Config{
		Level: cfg.LogLevel,
		Path:  cfg.LogPath,
		Dev:   cfg.GinMode == gin.DebugMode,
	}); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.L()

	zlog.Debug("config loaded",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("manifest", cfg.ModelManifest),
		zap.String("overlay_backend", cfg.OverlayBackend),
		zap.Float64("confidence_threshold", cfg.ConfidenceThreshold))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Окружение onnxruntime нужно только моделям с ONNX бэкбоном
	if cfg.ONNXLibraryPath != "" {
		if err := onnx.Init(cfg.ONNXLibraryPath); err != nil {
			zlog.Warn("onnx runtime is unavailable", zap.Error(err))
		} else {
			defer func() {
				if err := onnx.Shutdown(); err != nil {
					zlog.Warn("onnx shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	registry, err := model.Load(cfg.ModelManifest, logger.Named("model"))
	if err != nil {
		zlog.Fatal("failed to load model manifest", zap.String("path", cfg.ModelManifest), zap.Error(err))
	}
	defer registry.Close()

	m := metrics.New()

	var renderer port.OverlayRenderer
	switch cfg.OverlayBackend {
	case config.OverlayGoCV:
		renderer = &vision.GoCVOverlayRenderer{MaxSide: cfg.OverlayMaxSide}
	default:
		renderer = &vision.OverlayRenderer{MaxSide: cfg.OverlayMaxSide}
	}

	// Собираем сервисы приложения
	appContainer := container.New(container.Deps{
		Sessions:     storage.NewMemorySessionRepository(),
		General:      registry.General,
		Specialized:  registry.Specialized,
		Triggers:     registry.Triggers,
		Preprocessor: vision.NewPreprocessor(registry.InputSize),
		Renderer:     renderer,
		HeatmapAlpha: cfg.HeatmapAlpha,
		Logger:       logger,
		Metrics:      m,
	})

	gin.SetMode(cfg.GinMode)
	handler := rest.NewHandler(appContainer.TriageService, rest.ModelInfo{
		GeneralLabels:     registry.GeneralLabels,
		SpecializedLabels: registry.SpecializedLabels,
		Triggers:          appContainer.Engine.Triggers(),
		GeneralLoaded:     registry.General != nil,
		SpecializedLoaded: registry.Specialized != nil,
	}, rest.Options{
		DefaultThreshold: cfg.ConfidenceThreshold,
		MaxUploadBytes:   cfg.MaxUploadBytes(),
	}, logger.Named("http"))

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: rest.NewRouter(rest.RouterConfig{
			Handler:        handler,
			Metrics:        m.Handler(),
			Logger:         logger.Named("http"),
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Development:    cfg.GinMode == gin.DebugMode,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("http server is running", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, appContainer.SessionService, appContainer.TriageService, logger.Named("telegram"))
		if err != nil {
			zlog.Error("failed to create bot", zap.Error(err))
		} else {
			go func() {
				zlog.Info("bot is running")
				if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zlog.Error("bot stopped", zap.Error(err))
				}
			}()
		}
	} else {
		zlog.Info("TELEGRAM_TOKEN is empty, bot is disabled")
	}

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("http shutdown failed", zap.Error(err))
	}
}
