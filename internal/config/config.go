// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"veil/internal/pipeline"
)

// Config holds the full service configuration.
type Config struct {
	Addr   string // HTTP listen address
	Device string // capture device, RTSP URL or X11 display
	FPS    int
	Width  int // capture frame width
	Height int // capture frame height

	EngineEndpoint string // remote inference service base URL

	ModelInputSize       int
	Label                string
	ConfidenceThreshold  float32
	IoUThreshold         float32
	MinProcessIntervalMs int

	DBPath string

	AuthEnabled  bool
	AuthUsername string
	AuthPassword string
	JWTSecret    string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Addr:   getEnv("VEIL_ADDR", ":8420"),
		Device: getEnv("VEIL_DEVICE", "/dev/video0"),
		FPS:    getEnvAsInt("VEIL_FPS", 15),
		Width:  getEnvAsInt("VEIL_FRAME_WIDTH", 1280),
		Height: getEnvAsInt("VEIL_FRAME_HEIGHT", 720),

		EngineEndpoint: getEnv("VEIL_ENGINE_ENDPOINT", "http://localhost:9500"),

		ModelInputSize:       getEnvAsInt("VEIL_MODEL_INPUT_SIZE", 512),
		Label:                getEnv("VEIL_LABEL", "flagged"),
		ConfidenceThreshold:  getEnvAsFloat("VEIL_CONFIDENCE_THRESHOLD", 0.10),
		IoUThreshold:         getEnvAsFloat("VEIL_IOU_THRESHOLD", 0.45),
		MinProcessIntervalMs: getEnvAsInt("VEIL_MIN_PROCESS_INTERVAL_MS", 300),

		DBPath: getEnv("VEIL_DB_PATH", "veil.db"),

		AuthEnabled:  getEnvAsBool("VEIL_AUTH_ENABLED", false),
		AuthUsername: getEnv("VEIL_AUTH_USERNAME", ""),
		AuthPassword: getEnv("VEIL_AUTH_PASSWORD", ""),
		JWTSecret:    getEnv("VEIL_JWT_SECRET", ""),
	}
}

// Pipeline converts the detection-related settings to a pipeline config.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
		ModelInputSize:      c.ModelInputSize,
		MinProcessInterval:  time.Duration(c.MinProcessIntervalMs) * time.Millisecond,
		Label:               c.Label,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float32) float32 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
