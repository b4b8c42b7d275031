// Package config loads gateway configuration from the environment, an
// optional .env file and an optional YAML provider catalog.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

// Config represents the complete gateway configuration
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Providers ProvidersConfig
	Session   SessionConfig
	Recording RecordingConfig
	Mongo     MongoConfig
	Logging   LoggingConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port   string
	WSPath string
}

// AuthConfig enables JWT signature mode when Secret is set
type AuthConfig struct {
	Secret     string
	Algorithms []string
}

// ProviderConfig configures one upstream provider
type ProviderConfig struct {
	APIKey string           `yaml:"-"`
	Model  string           `yaml:"model"`
	URL    string           `yaml:"url"`
	Name   string           `yaml:"name"`
	Voices []entities.Voice `yaml:"voices"`
}

// Enabled reports whether the provider has credentials
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// ProvidersConfig holds the provider catalog. Order decides the handshake
// order; the first enabled provider is the default.
type ProvidersConfig struct {
	OpenAI ProviderConfig `yaml:"openai"`
	Gemini ProviderConfig `yaml:"gemini"`
	Order  []string       `yaml:"order"`
}

// SessionConfig holds per-session defaults passed to providers
type SessionConfig struct {
	SystemInstruction string
	Transcription     repositories.TranscriptionFlags
	Tools             []repositories.ToolDefinition
	TTL               time.Duration
	// EncryptionKey is 64 hex characters; empty disables history encryption
	EncryptionKey string
}

// RecordingConfig controls the session recorder
type RecordingConfig struct {
	Enabled   bool
	Directory string
	Template  string
}

// MongoConfig selects the persistent session store when URI is set
type MongoConfig struct {
	URI      string
	Database string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// catalogFile is the YAML layout of PROVIDERS_FILE
type catalogFile struct {
	Providers ProvidersConfig               `yaml:"providers"`
	Tools     []repositories.ToolDefinition `yaml:"tools"`
}

// Load reads .env (if present), the environment and the provider catalog
func Load() (*Config, error) {
	// A missing .env file is normal outside development
	_ = godotenv.Load()

	ttl, err := getEnvDuration("SESSION_TTL", entities.DefaultConversationTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:   getEnv("PORT", "8080"),
			WSPath: getEnv("WS_PATH", "/ws"),
		},
		Auth: AuthConfig{
			Secret:     os.Getenv("JWT_SECRET"),
			Algorithms: getEnvList("JWT_ALGORITHMS", []string{"HS256"}),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  os.Getenv("OPENAI_MODEL"),
				URL:    os.Getenv("OPENAI_URL"),
			},
			Gemini: ProviderConfig{
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  os.Getenv("GEMINI_MODEL"),
				URL:    os.Getenv("GEMINI_URL"),
			},
			Order: getEnvList("PROVIDER_ORDER", []string{"openai", "gemini"}),
		},
		Session: SessionConfig{
			SystemInstruction: os.Getenv("SYSTEM_INSTRUCTION"),
			Transcription: repositories.TranscriptionFlags{
				Input:  getEnvBool("TRANSCRIBE_INPUT", true),
				Output: getEnvBool("TRANSCRIBE_OUTPUT", true),
			},
			TTL:           ttl,
			EncryptionKey: os.Getenv("HISTORY_ENCRYPTION_KEY"),
		},
		Recording: RecordingConfig{
			Enabled:   getEnvBool("RECORDING_ENABLED", false),
			Directory: getEnv("RECORDING_DIR", "recordings"),
			Template:  getEnv("RECORDING_TEMPLATE", "session_{id}.wav"),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: getEnv("MONGODB_DATABASE", "voxbridge"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if path := os.Getenv("PROVIDERS_FILE"); path != "" {
		if err := cfg.applyCatalog(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyCatalog overlays the YAML catalog. Environment values win over the file.
func (c *Config) applyCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read providers file %s: %w", path, err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to parse providers file %s: %w", path, err)
	}

	mergeProvider(&c.Providers.OpenAI, catalog.Providers.OpenAI)
	mergeProvider(&c.Providers.Gemini, catalog.Providers.Gemini)
	if len(catalog.Providers.Order) > 0 && os.Getenv("PROVIDER_ORDER") == "" {
		c.Providers.Order = catalog.Providers.Order
	}
	c.Session.Tools = catalog.Tools

	return nil
}

func mergeProvider(dst *ProviderConfig, src ProviderConfig) {
	if dst.Model == "" {
		dst.Model = src.Model
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if len(dst.Voices) == 0 {
		dst.Voices = src.Voices
	}
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %q", c.Server.Port)
	}

	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with '/', got %q", c.Server.WSPath)
	}

	if !c.Providers.OpenAI.Enabled() && !c.Providers.Gemini.Enabled() {
		return fmt.Errorf("at least one of OPENAI_API_KEY or GEMINI_API_KEY is required")
	}

	for _, id := range c.Providers.Order {
		if id != "openai" && id != "gemini" {
			return fmt.Errorf("unknown provider %q in provider order", id)
		}
	}

	if key := c.Session.EncryptionKey; key != "" {
		raw, err := hex.DecodeString(key)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("HISTORY_ENCRYPTION_KEY must be 64 hex characters")
		}
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of [debug, info, warn, error], got '%s'", c.Logging.Level)
	}

	if c.Recording.Enabled && c.Recording.Directory == "" {
		return fmt.Errorf("RECORDING_DIR cannot be empty when recording is enabled")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 24h: %w", key, err)
	}
	return d, nil
}
