package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load gets an empty path and STUDIO_CONFIG is unset.
const ConfigPath = "config.yaml"

const (
	defaultGenerationTimeoutSeconds = 45
	defaultGenerationMaxTokens      = 4096
	defaultGenerationTemperature    = 0.7
	defaultGenerationMaxParallel    = 5
	maxGenerationTemperature        = 2
	defaultRateLimitPerMinute       = 20
	defaultIdempotencyTTLSeconds    = 600
	defaultIdempotencyCacheSize     = 1024
	defaultFreeProjectsLimit        = 3
	defaultFreeCredits              = 10
	defaultProProjectsLimit         = 50
	defaultExportURLExpirySeconds   = 900
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port             string   `yaml:"port"`
	LogLevel         string   `yaml:"logLevel"`
	DatabaseURL      string   `yaml:"databaseURL"`
	AllowMemoryStore bool     `yaml:"allowMemoryStore"`
	RedisAddr        string   `yaml:"redisAddr"`
	RedisPassword    string   `yaml:"redisPassword"`
	CORSOrigins      []string `yaml:"corsOrigins"`

	GenerationProvider       string `yaml:"generationProvider"`
	GenerationBaseURL        string `yaml:"generationBaseURL"`
	GenerationAPIKey         string `yaml:"generationAPIKey"`
	GenerationModel          string `yaml:"generationModel"`
	GenerationTimeoutSeconds int    `yaml:"generationTimeoutSeconds"`
	GenerationMaxTokens      int    `yaml:"generationMaxTokens"`
	// GenerationTemperature is a pointer so an explicit 0 survives defaulting.
	GenerationTemperature *float64 `yaml:"generationTemperature"`
	// GenerationMaxParallel bounds concurrent provider calls per batch request.
	GenerationMaxParallel int `yaml:"generationMaxParallel"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	RateLimitPerMinute    int `yaml:"rateLimitPerMinute"`
	IdempotencyTTLSeconds int `yaml:"idempotencyTTLSeconds"`
	IdempotencyCacheSize  int `yaml:"idempotencyCacheSize"`

	Costs             map[string]int `yaml:"costs"`
	FreeProjectsLimit int            `yaml:"freeProjectsLimit"`
	FreeCredits       int            `yaml:"freeCredits"`
	ProProjectsLimit  int            `yaml:"proProjectsLimit"`

	MinioEndpoint          string `yaml:"minioEndpoint"`
	MinioAccessKey         string `yaml:"minioAccessKey"`
	MinioSecretKey         string `yaml:"minioSecretKey"`
	MinioBucket            string `yaml:"minioBucket"`
	MinioRegion            string `yaml:"minioRegion"`
	MinioUseSSL            bool   `yaml:"minioUseSSL"`
	ExportURLExpirySeconds int    `yaml:"exportURLExpirySeconds"`
}

// ExportEnabled reports whether object storage is configured.
func (c FileConfig) ExportEnabled() bool {
	return c.MinioEndpoint != "" && c.MinioBucket != ""
}

// Load reads config from path (defaults to STUDIO_CONFIG, then config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("STUDIO_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.GenerationProvider, "GENERATION_PROVIDER")
	setString(&cfg.GenerationBaseURL, "GENERATION_BASE_URL")
	setString(&cfg.GenerationModel, "GENERATION_MODEL")
	setInt(&cfg.GenerationTimeoutSeconds, "GENERATION_TIMEOUT_SECONDS")
	setInt(&cfg.GenerationMaxParallel, "GENERATION_MAX_PARALLEL")
	if v := strings.TrimSpace(os.Getenv("GENERATION_TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GenerationTemperature = &f
		}
	}
	switch strings.ToLower(cfg.GenerationProvider) {
	case "gemini":
		setString(&cfg.GenerationAPIKey, "GENERATION_API_KEY", "GEMINI_API_KEY")
	default:
		setString(&cfg.GenerationAPIKey, "GENERATION_API_KEY", "OPENAI_API_KEY")
	}
	setString(&cfg.JWTSecret, "STUDIO_JWT_SECRET")
	setInt(&cfg.RateLimitPerMinute, "STUDIO_RATE_LIMIT_PER_MINUTE")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setString(&cfg.MinioRegion, "MINIO_REGION")
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("STUDIO_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "openai"
	}
	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	if cfg.GenerationTimeoutSeconds <= 0 {
		cfg.GenerationTimeoutSeconds = defaultGenerationTimeoutSeconds
	}
	if cfg.GenerationMaxTokens <= 0 {
		cfg.GenerationMaxTokens = defaultGenerationMaxTokens
	}
	if cfg.GenerationTemperature == nil {
		t := defaultGenerationTemperature
		cfg.GenerationTemperature = &t
	}
	if cfg.GenerationMaxParallel <= 0 {
		cfg.GenerationMaxParallel = defaultGenerationMaxParallel
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if cfg.IdempotencyTTLSeconds <= 0 {
		cfg.IdempotencyTTLSeconds = defaultIdempotencyTTLSeconds
	}
	if cfg.IdempotencyCacheSize <= 0 {
		cfg.IdempotencyCacheSize = defaultIdempotencyCacheSize
	}
	if cfg.FreeProjectsLimit <= 0 {
		cfg.FreeProjectsLimit = defaultFreeProjectsLimit
	}
	if cfg.FreeCredits <= 0 {
		cfg.FreeCredits = defaultFreeCredits
	}
	if cfg.ProProjectsLimit <= 0 {
		cfg.ProProjectsLimit = defaultProProjectsLimit
	}
	if cfg.ExportURLExpirySeconds <= 0 {
		cfg.ExportURLExpirySeconds = defaultExportURLExpirySeconds
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" && !cfg.AllowMemoryStore {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.GenerationProvider {
	case "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("config: generationProvider %q is not supported (openai, gemini, ollama)", cfg.GenerationProvider)
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml or GENERATION_MODEL)")
	}
	if t := cfg.GenerationTemperature; t != nil && (*t < 0 || *t > maxGenerationTemperature) {
		return fmt.Errorf("config: generationTemperature must be between 0 and %d", maxGenerationTemperature)
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or STUDIO_JWT_SECRET)")
	}
	for action, cost := range cfg.Costs {
		if cost <= 0 {
			return fmt.Errorf("config: costs.%s must be positive", action)
		}
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
