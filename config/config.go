package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Бэкенды наложения тепловой карты
const (
	OverlayNative = "native"
	OverlayGoCV   = "gocv"
)

type Config struct {
	HTTPAddr            string
	TelegramToken       string
	ModelManifest       string
	ONNXLibraryPath     string
	ConfidenceThreshold float64
	HeatmapAlpha        float64
	OverlayBackend      string
	OverlayMaxSide      int
	MaxUploadMB         int
	LogLevel            string
	LogPath             string
	GinMode             string
}

// MaxUploadBytes лимит размера загружаемого файла
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		ModelManifest:   getEnv("MODEL_MANIFEST", "models/manifest.toml"),
		ONNXLibraryPath: os.Getenv("ONNX_LIBRARY_PATH"),
		OverlayBackend:  strings.ToLower(getEnv("OVERLAY_BACKEND", OverlayNative)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPath:         os.Getenv("LOG_PATH"),
		GinMode:         getEnv("GIN_MODE", "release"),
	}

	var err error
	if cfg.ConfidenceThreshold, err = getFloat("CONFIDENCE_THRESHOLD", 0.5); err != nil {
		return nil, err
	}
	if cfg.HeatmapAlpha, err = getFloat("HEATMAP_ALPHA", 0.4); err != nil {
		return nil, err
	}
	if cfg.OverlayMaxSide, err = getInt("OVERLAY_MAX_SIDE", 1024); err != nil {
		return nil, err
	}
	if cfg.MaxUploadMB, err = getInt("MAX_UPLOAD_MB", 16); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1) {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if !(c.HeatmapAlpha > 0 && c.HeatmapAlpha <= 1) {
		return fmt.Errorf("HEATMAP_ALPHA must be in (0,1], got %v", c.HeatmapAlpha)
	}
	if c.OverlayBackend != OverlayNative && c.OverlayBackend != OverlayGoCV {
		return fmt.Errorf("OVERLAY_BACKEND must be %q or %q, got %q", OverlayNative, OverlayGoCV, c.OverlayBackend)
	}
	if c.OverlayMaxSide <= 0 {
		return fmt.Errorf("OVERLAY_MAX_SIDE must be positive, got %d", c.OverlayMaxSide)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
