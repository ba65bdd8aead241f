package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Training TrainingConfig
	Store    StoreConfig
	Log      LogConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	training, err := loadTrainingConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Training: training, Store: store, Log: log}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig describes the Ark chat model and per-call limits.
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	ModelTimeout time.Duration
	// StreamResponse streams guest replies over SSE as they are generated.
	StreamResponse bool
}

// Enabled reports whether credentials and a model were supplied.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the Ark chat model from configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and ARK_MODEL, or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_MODEL_TIMEOUT", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	streamResponse, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		StreamResponse: streamResponse,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		ModelTimeout:   timeout,
	}, nil
}

// TrainingConfig holds workflow tunables that scenarios do not override.
type TrainingConfig struct {
	HistoryWindow   int
	DefaultMaxTurns int
}

func loadTrainingConfig() (TrainingConfig, error) {
	cfg := TrainingConfig{HistoryWindow: 12, DefaultMaxTurns: 10}

	window, err := parseOptionalIntEnv("TRAINING_HISTORY_WINDOW")
	if err != nil {
		return TrainingConfig{}, err
	}
	if window != nil {
		if *window < 2 {
			return TrainingConfig{}, fmt.Errorf("TRAINING_HISTORY_WINDOW must be >= 2, got %d", *window)
		}
		cfg.HistoryWindow = *window
	}

	maxTurns, err := parseOptionalIntEnv("TRAINING_DEFAULT_MAX_TURNS")
	if err != nil {
		return TrainingConfig{}, err
	}
	if maxTurns != nil {
		if *maxTurns < 1 {
			return TrainingConfig{}, fmt.Errorf("TRAINING_DEFAULT_MAX_TURNS must be >= 1, got %d", *maxTurns)
		}
		cfg.DefaultMaxTurns = *maxTurns
	}

	return cfg, nil
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend    string
	RedisURL   string
	SQLitePath string
	SessionTTL time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORE_BACKEND", "memory"))
	switch backend {
	case "memory", "redis", "sqlite":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_BACKEND value %q: want memory, redis or sqlite", backend)
	}

	ttl, err := parseDurationEnv("STORE_SESSION_TTL", 72*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		Backend:    backend,
		RedisURL:   getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "./data/training.db"),
		SessionTTL: ttl,
	}
	return cfg, nil
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string
	Production bool
}

func loadLogConfig() (LogConfig, error) {
	production, err := parseBoolEnv("LOG_PRODUCTION", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		Production: production,
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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
