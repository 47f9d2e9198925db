package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Generation GenerationConfig
	Studio     StudioConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	generation, err := loadGenerationConfig()
	if err != nil {
		return nil, err
	}

	studio, err := loadStudioConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Generation: generation, Studio: studio}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr      string
	StaticDir string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	staticDir := strings.TrimSpace(os.Getenv("STUDIO_STATIC_DIR"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, StaticDir: staticDir}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, StaticDir: staticDir}, nil
}

// GenerationConfig 描述音乐生成服务配置。
type GenerationConfig struct {
	BaseURL string
	// Timeout bounds one generation request; zero means no limit.
	Timeout time.Duration
	// HealthWait is how long startup waits for the service to report healthy.
	HealthWait time.Duration
}

func loadGenerationConfig() (GenerationConfig, error) {
	baseURL := strings.TrimRight(getEnvOrDefault("GENERATION_BASE_URL", "http://localhost:8000"), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return GenerationConfig{}, fmt.Errorf("invalid GENERATION_BASE_URL value %q: must start with http:// or https://", baseURL)
	}

	timeout, err := parseDurationEnv("GENERATION_TIMEOUT", 0)
	if err != nil {
		return GenerationConfig{}, err
	}

	healthWait, err := parseDurationEnv("GENERATION_HEALTH_WAIT", 30*time.Second)
	if err != nil {
		return GenerationConfig{}, err
	}

	return GenerationConfig{BaseURL: baseURL, Timeout: timeout, HealthWait: healthWait}, nil
}

// StudioConfig 描述工作室会话配置。
type StudioConfig struct {
	NoticeTTL        time.Duration
	SessionIdle      time.Duration
	MicGrantTimeout  time.Duration
	FinetunedEnabled bool
	MaxUploadBytes   int64
	DefaultDuration  int
}

func loadStudioConfig() (StudioConfig, error) {
	noticeTTL, err := parseDurationEnv("STUDIO_NOTICE_TTL", 5*time.Second)
	if err != nil {
		return StudioConfig{}, err
	}

	idle, err := parseDurationEnv("STUDIO_SESSION_IDLE", 30*time.Minute)
	if err != nil {
		return StudioConfig{}, err
	}

	grant, err := parseDurationEnv("STUDIO_MIC_GRANT_TIMEOUT", 30*time.Second)
	if err != nil {
		return StudioConfig{}, err
	}

	finetuned, err := parseBoolEnv("STUDIO_FINETUNED_ENABLED", false)
	if err != nil {
		return StudioConfig{}, err
	}

	maxUploadMB := 256
	if override, err := parseOptionalIntEnv("STUDIO_MAX_UPLOAD_MB"); err != nil {
		return StudioConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return StudioConfig{}, fmt.Errorf("invalid STUDIO_MAX_UPLOAD_MB value %d: must be positive", *override)
		}
		maxUploadMB = *override
	}

	duration := 30
	if override, err := parseOptionalIntEnv("STUDIO_DEFAULT_DURATION"); err != nil {
		return StudioConfig{}, err
	} else if override != nil {
		if *override < 20 || *override > 45 {
			return StudioConfig{}, fmt.Errorf("invalid STUDIO_DEFAULT_DURATION value %d: must be between 20 and 45", *override)
		}
		duration = *override
	}

	return StudioConfig{
		NoticeTTL:        noticeTTL,
		SessionIdle:      idle,
		MicGrantTimeout:  grant,
		FinetunedEnabled: finetuned,
		MaxUploadBytes:   int64(maxUploadMB) << 20,
		DefaultDuration:  duration,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 接受 Go 时长格式（"90s"）或纯秒数（"90"）。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}
