package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	CORS    CORSConfig
	Upload  UploadConfig
	Archive ArchiveConfig
	Redis   RedisConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	archive, err := loadArchiveConfig()
	if err != nil {
		return nil, err
	}

	metrics, err := loadMetricsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		CORS:    loadCORSConfig(),
		Upload:  upload,
		Archive: archive,
		Redis:   loadRedisConfig(),
		Log:     LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
		Metrics: metrics,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	host := strings.TrimSpace(os.Getenv("HOST"))
	return ServerConfig{Addr: net.JoinHostPort(host, port)}, nil
}

// CORSConfig 描述跨域白名单。
type CORSConfig struct {
	AllowedOrigins []string
}

func loadCORSConfig() CORSConfig {
	raw := getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3001")
	return CORSConfig{AllowedOrigins: splitList(raw)}
}

// UploadConfig 描述录像上传会话的配置。
type UploadConfig struct {
	BaseDir            string
	Extension          string
	DefaultCandidateID string
	IdleTimeout        time.Duration
	MaxFrameBytes      int64
	LockTTL            time.Duration
}

func loadUploadConfig() (UploadConfig, error) {
	idle, err := parseDurationEnv("UPLOAD_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return UploadConfig{}, err
	}

	lockTTL, err := parseDurationEnv("UPLOAD_LOCK_TTL", time.Hour)
	if err != nil {
		return UploadConfig{}, err
	}

	maxFrame := int64(16 << 20)
	if override, err := parseOptionalIntEnv("UPLOAD_MAX_FRAME_BYTES"); err != nil {
		return UploadConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return UploadConfig{}, fmt.Errorf("invalid UPLOAD_MAX_FRAME_BYTES value %d: must be positive", *override)
		}
		maxFrame = int64(*override)
	}

	ext := getEnvOrDefault("UPLOAD_EXTENSION", ".webm")
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return UploadConfig{
		BaseDir:            getEnvOrDefault("UPLOAD_BASE_DIR", "recordings"),
		Extension:          ext,
		DefaultCandidateID: getEnvOrDefault("UPLOAD_DEFAULT_CANDIDATE_ID", "anonymous"),
		IdleTimeout:        idle,
		MaxFrameBytes:      maxFrame,
		LockTTL:            lockTTL,
	}, nil
}

// ArchiveConfig 描述完成录像的 S3 归档配置。
type ArchiveConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// Enabled 表示是否配置了归档目标。
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

func loadArchiveConfig() (ArchiveConfig, error) {
	pathStyle, err := parseBoolEnv("S3_USE_PATH_STYLE", false)
	if err != nil {
		return ArchiveConfig{}, err
	}

	return ArchiveConfig{
		Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
		Prefix:       strings.TrimSpace(os.Getenv("S3_PREFIX")),
		Region:       strings.TrimSpace(os.Getenv("S3_REGION")),
		Endpoint:     strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		UsePathStyle: pathStyle,
	}, nil
}

// RedisConfig 描述可选的 Redis 连接（分布式路径锁与完成事件）。
type RedisConfig struct {
	URL        string
	Channel    string
	LockPrefix string
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		Channel:    getEnvOrDefault("REDIS_CHANNEL", "recstream:upload_finished"),
		LockPrefix: getEnvOrDefault("REDIS_LOCK_PREFIX", "recstream:lock:"),
	}
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level string
}

// MetricsConfig 描述 Prometheus 指标暴露配置。
type MetricsConfig struct {
	Enabled bool
	Path    string
}

func loadMetricsConfig() (MetricsConfig, error) {
	enabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return MetricsConfig{}, err
	}
	return MetricsConfig{
		Enabled: enabled,
		Path:    getEnvOrDefault("METRICS_PATH", "/metrics"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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

// parseDurationEnv 接受 Go duration 字符串（"90s"）或纯秒数（"90"）。
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
